package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// It searches the newest committed snapshot of each file.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{q.Text}
	where := ""
	if q.ProjectID != "" {
		where = " AND latest.project_id = $2"
		args = append(args, q.ProjectID)
	}

	query := fmt.Sprintf(`
		WITH latest AS (
			SELECT DISTINCT ON (f.project_id, f.path)
				f.id, f.project_id, f.path, f.content
			FROM file_tree f
			JOIN commits c ON c.id = f.commit_id
			ORDER BY f.project_id, f.path, c.created_at DESC, c.id DESC
		)
		SELECT latest.id, latest.project_id, u.name, p.name, latest.path,
			ts_headline('english', latest.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			COUNT(*) OVER () AS total
		FROM latest
		JOIN projects p ON p.id = latest.project_id
		JOIN users u ON u.id = p.owner_id
		WHERE (to_tsvector('english', latest.path) || to_tsvector('english', latest.content)) @@ plainto_tsquery('english', $1)%s
		ORDER BY ts_rank(to_tsvector('english', latest.content), plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Owner, &r.Repo, &r.Path, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}
	return results, total, nil
}
