package collab

import (
	"fmt"
	"strings"
)

// RoomKey identifies one collaboratively edited file. Its wire form is
// "{owner}/{repo}/{filePath}", where filePath may itself contain slashes.
type RoomKey struct {
	Owner string
	Repo  string
	Path  string
}

func ParseRoomKey(raw string) (RoomKey, error) {
	parts := strings.SplitN(raw, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return RoomKey{}, fmt.Errorf("malformed room id %q", raw)
	}
	return RoomKey{Owner: parts[0], Repo: parts[1], Path: parts[2]}, nil
}

func (k RoomKey) String() string {
	return k.Owner + "/" + k.Repo + "/" + k.Path
}
