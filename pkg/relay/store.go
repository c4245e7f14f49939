package relay

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Target is a configured relay destination and its allow-listed projects.
// Only sessions under an allow-listed project root are ever relayed to it.
type Target struct {
	ID           string
	Name         string
	Endpoint     string
	Token        string
	RefreshToken string
	CreatedAt    time.Time
	Projects     []string
}

// Store persists relay targets in SQLite. Target IDs may be abbreviated to
// any unambiguous prefix in the mutating operations.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS relay_targets (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	endpoint      TEXT NOT NULL,
	token         TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS relay_allowed_projects (
	target_id    TEXT NOT NULL,
	project_path TEXT NOT NULL,
	PRIMARY KEY (target_id, project_path)
);
`

// NewStore initializes the relay tables and returns a store backed by db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(context.Background(), storeSchema); err != nil {
		return nil, fmt.Errorf("init relay schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Add persists a new target. The caller supplies a full ID (typically from
// the connect link's target parameter).
func (s *Store) Add(ctx context.Context, t Target) error {
	if t.ID == "" {
		return fmt.Errorf("target id is required")
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_targets (id, name, endpoint, token, refresh_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Endpoint, t.Token, t.RefreshToken, created.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add relay target %s: %w", t.ID, err)
	}
	for _, p := range t.Projects {
		if err := s.allowProjectByID(ctx, t.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a target and its project allow-list. idOrPrefix may be any
// unambiguous prefix of the target ID.
func (s *Store) Remove(ctx context.Context, idOrPrefix string) error {
	id, err := s.resolveID(ctx, idOrPrefix)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM relay_allowed_projects WHERE target_id = ?`, id); err != nil {
		return fmt.Errorf("remove relay target %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM relay_targets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove relay target %s: %w", id, err)
	}
	return nil
}

// Get returns one target, resolved by ID prefix, with its allow-list loaded.
func (s *Store) Get(ctx context.Context, idOrPrefix string) (Target, error) {
	id, err := s.resolveID(ctx, idOrPrefix)
	if err != nil {
		return Target{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, endpoint, token, refresh_token, created_at
		 FROM relay_targets WHERE id = ?`, id)
	t, err := scanTarget(row)
	if err != nil {
		return Target{}, fmt.Errorf("load relay target %s: %w", id, err)
	}
	t.Projects, err = s.projectsFor(ctx, id)
	if err != nil {
		return Target{}, err
	}
	return t, nil
}

// List returns all targets ordered by creation time, allow-lists included.
func (s *Store) List(ctx context.Context) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, endpoint, token, refresh_token, created_at
		 FROM relay_targets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list relay targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("list relay targets: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relay targets: %w", err)
	}
	for i := range targets {
		targets[i].Projects, err = s.projectsFor(ctx, targets[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return targets, nil
}

// Count returns the number of configured targets. The tick loop uses it to
// decide whether relay work exists at all.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_targets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count relay targets: %w", err)
	}
	return n, nil
}

// AllowProject adds a project root to a target's allow-list. Idempotent.
func (s *Store) AllowProject(ctx context.Context, idOrPrefix, projectPath string) error {
	id, err := s.resolveID(ctx, idOrPrefix)
	if err != nil {
		return err
	}
	return s.allowProjectByID(ctx, id, projectPath)
}

// DenyProject removes a project root from a target's allow-list. Removing a
// path that is not listed is a no-op.
func (s *Store) DenyProject(ctx context.Context, idOrPrefix, projectPath string) error {
	id, err := s.resolveID(ctx, idOrPrefix)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM relay_allowed_projects WHERE target_id = ? AND project_path = ?`,
		id, projectPath)
	if err != nil {
		return fmt.Errorf("deny project on %s: %w", id, err)
	}
	return nil
}

// UpdateTokens replaces a target's credentials after a refresh exchange.
func (s *Store) UpdateTokens(ctx context.Context, idOrPrefix, token, refreshToken string) error {
	id, err := s.resolveID(ctx, idOrPrefix)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE relay_targets SET token = ?, refresh_token = ? WHERE id = ?`,
		token, refreshToken, id)
	if err != nil {
		return fmt.Errorf("update tokens for %s: %w", id, err)
	}
	return nil
}

func (s *Store) allowProjectByID(ctx context.Context, id, projectPath string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relay_allowed_projects (target_id, project_path) VALUES (?, ?)`,
		id, projectPath)
	if err != nil {
		return fmt.Errorf("allow project on %s: %w", id, err)
	}
	return nil
}

func (s *Store) projectsFor(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_path FROM relay_allowed_projects WHERE target_id = ? ORDER BY project_path`, id)
	if err != nil {
		return nil, fmt.Errorf("load allow-list for %s: %w", id, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("load allow-list for %s: %w", id, err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// resolveID expands an ID prefix to the full target ID. Returns an error
// naming every match when the prefix is ambiguous.
func (s *Store) resolveID(ctx context.Context, idOrPrefix string) (string, error) {
	if idOrPrefix == "" {
		return "", fmt.Errorf("target id is required")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM relay_targets WHERE id LIKE ? || '%' ORDER BY id`, idOrPrefix)
	if err != nil {
		return "", fmt.Errorf("resolve target %s: %w", idOrPrefix, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("resolve target %s: %w", idOrPrefix, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve target %s: %w", idOrPrefix, err)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no relay target matches %q", idOrPrefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("target prefix %q is ambiguous: matches %s",
			idOrPrefix, strings.Join(ids, ", "))
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (Target, error) {
	var t Target
	var created string
	if err := row.Scan(&t.ID, &t.Name, &t.Endpoint, &t.Token, &t.RefreshToken, &created); err != nil {
		return Target{}, err
	}
	if ts, err := time.Parse(time.RFC3339, created); err == nil {
		t.CreatedAt = ts
	}
	return t, nil
}
