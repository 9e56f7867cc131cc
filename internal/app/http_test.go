package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHTTPServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("GET %s: decode: %v", url, err)
	}
	return body
}

func postJSON(t *testing.T, url, payload string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("POST %s: decode: %v", url, err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestHTTPServer(t, newTestService(newFakeStore(), &fakeGit{}))

	body := getJSON(t, server.URL+"/api/health", http.StatusOK)
	if body["ok"] != true {
		t.Errorf("health body = %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server := newTestHTTPServer(t, newTestService(newFakeStore(), &fakeGit{}))

	body := getJSON(t, server.URL+"/api/ready", http.StatusOK)
	if body["status"] != "ready" {
		t.Errorf("ready body = %v", body)
	}
}

func TestCollabTokenEndpoint(t *testing.T) {
	server := newTestHTTPServer(t, newTestService(newFakeStore(), &fakeGit{}))

	body := postJSON(t, server.URL+"/api/collab/token",
		`{"name":"alice","roomId":"alice/demo/src/main.go"}`, http.StatusOK)
	if body["token"] == "" || body["token"] == nil {
		t.Error("missing token in response")
	}
	if body["canWrite"] != true {
		t.Errorf("canWrite = %v", body["canWrite"])
	}
	if body["name"] != "alice" {
		t.Errorf("name = %v", body["name"])
	}
}

func TestCollabTokenValidation(t *testing.T) {
	server := newTestHTTPServer(t, newTestService(newFakeStore(), &fakeGit{}))

	postJSON(t, server.URL+"/api/collab/token", `{"name":"","roomId":""}`, http.StatusBadRequest)
	postJSON(t, server.URL+"/api/collab/token", `{"name":"alice","roomId":"no-slashes"}`, http.StatusBadRequest)
	postJSON(t, server.URL+"/api/collab/token", `{"name":"alice","roomId":"alice/nope/f.go"}`, http.StatusNotFound)
	postJSON(t, server.URL+"/api/collab/token", `not json`, http.StatusBadRequest)
}

func TestRoomsEndpoint(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeGit{})
	server := newTestHTTPServer(t, svc)

	body := getJSON(t, server.URL+"/api/rooms", http.StatusOK)
	rooms, ok := body["rooms"].([]any)
	if !ok {
		t.Fatalf("rooms = %v", body["rooms"])
	}
	if len(rooms) != 0 {
		t.Errorf("expected no live rooms, got %d", len(rooms))
	}

	key := mustRoomKey(t, "alice/demo/main.go")
	room := svc.Registry().GetOrCreate(key)
	room.AddParticipant("conn-1", "alice")

	body = getJSON(t, server.URL+"/api/rooms", http.StatusOK)
	rooms, _ = body["rooms"].([]any)
	if len(rooms) != 1 {
		t.Fatalf("expected 1 live room, got %d", len(rooms))
	}
	entry := rooms[0].(map[string]any)
	if entry["roomId"] != "alice/demo/main.go" {
		t.Errorf("roomId = %v", entry["roomId"])
	}
	if entry["participants"] != float64(1) {
		t.Errorf("participants = %v", entry["participants"])
	}
}

func TestCommitsAndFileEndpoints(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, &fakeGit{})
	server := newTestHTTPServer(t, svc)
	key := mustRoomKey(t, "alice/demo/lib/util.go")

	if _, err := svc.SaveFile(context.Background(), key, Identity{UserID: "user-owner", DisplayName: "alice"}, "add util", "package lib\n"); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	body := getJSON(t, server.URL+"/api/alice/demo/commits", http.StatusOK)
	commits, ok := body["commits"].([]any)
	if !ok || len(commits) != 1 {
		t.Fatalf("commits = %v", body["commits"])
	}
	if msg := commits[0].(map[string]any)["message"]; msg != "add util" {
		t.Errorf("commit message = %v", msg)
	}

	body = getJSON(t, server.URL+"/api/alice/demo/file?path=lib/util.go", http.StatusOK)
	if body["content"] != "package lib\n" {
		t.Errorf("file content = %v", body["content"])
	}

	getJSON(t, server.URL+"/api/alice/demo/file?path=missing.go", http.StatusNotFound)
	getJSON(t, server.URL+"/api/alice/demo/file", http.StatusBadRequest)
	getJSON(t, server.URL+"/api/nobody/demo/commits", http.StatusNotFound)
}

func TestSearchEndpointWithoutBackend(t *testing.T) {
	server := newTestHTTPServer(t, newTestService(newFakeStore(), &fakeGit{}))

	body := getJSON(t, server.URL+"/api/search?q=hello", http.StatusOK)
	results, ok := body["results"].([]any)
	if !ok {
		t.Fatalf("results = %v", body["results"])
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}

	// Blank queries short-circuit before hitting any backend.
	getJSON(t, server.URL+"/api/search?q=", http.StatusOK)
}

func TestUnknownRoute(t *testing.T) {
	server := newTestHTTPServer(t, newTestService(newFakeStore(), &fakeGit{}))

	getJSON(t, server.URL+"/api/nope", http.StatusNotFound)
}
