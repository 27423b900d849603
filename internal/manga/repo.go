package manga

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mangashell/pkg/models"
)

// Repo keeps the last fetched copy of every manga envelope so the backend can
// answer lookups while MangaDex is unreachable.
type Repo struct {
	DB  *sql.DB
	now func() time.Time
}

type Snapshot struct {
	Manga     models.Manga `json:"manga"`
	FetchedAt time.Time    `json:"fetched_at"`
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db, now: time.Now}
}

func (r *Repo) Upsert(ctx context.Context, items []models.Manga) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO manga (id, type, title_en, attributes, relationships, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  type = excluded.type,
		  title_en = excluded.title_en,
		  attributes = excluded.attributes,
		  relationships = excluded.relationships,
		  fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	fetchedAt := r.now().UTC()
	for _, m := range items {
		attrs, err := json.Marshal(m.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes for %s: %w", m.ID, err)
		}
		rels := m.Relationships
		if rels == nil {
			rels = []models.Relationship{}
		}
		relsJSON, err := json.Marshal(rels)
		if err != nil {
			return fmt.Errorf("marshal relationships for %s: %w", m.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			m.ID,
			m.Type,
			m.Attributes.Title.Get("en"),
			string(attrs),
			string(relsJSON),
			fetchedAt,
		); err != nil {
			return fmt.Errorf("exec upsert for %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when id is unknown.
func (r *Repo) GetByID(ctx context.Context, id string) (*Snapshot, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, type, attributes, relationships, fetched_at
		FROM manga
		WHERE id = ?
	`, id)

	s, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan getByID: %w", err)
	}
	return s, nil
}

// SnapshotQuery filters the stored snapshots. Title matches the English
// title case-insensitively as a substring; a zero Since matches everything.
type SnapshotQuery struct {
	Title  string
	Since  time.Time
	Limit  int
	Offset int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (q SnapshotQuery) normalized() SnapshotQuery {
	if q.Limit <= 0 || q.Limit > maxPageSize {
		q.Limit = defaultPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Title = strings.TrimSpace(q.Title)
	return q
}

func (q SnapshotQuery) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.Title != "" {
		conds = append(conds, `LOWER(COALESCE(title_en, '')) LIKE ?`)
		args = append(args, "%"+strings.ToLower(q.Title)+"%")
	}
	if !q.Since.IsZero() {
		conds = append(conds, `fetched_at >= ?`)
		args = append(args, q.Since.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repo) Count(ctx context.Context, q SnapshotQuery) (int, error) {
	where, args := q.normalized().where()
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM manga`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return total, nil
}

// List returns matching snapshots, most recently fetched first.
func (r *Repo) List(ctx context.Context, q SnapshotQuery) ([]Snapshot, error) {
	q = q.normalized()
	where, args := q.where()
	args = append(args, q.Limit, q.Offset)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, type, attributes, relationships, fetched_at
		FROM manga`+where+`
		ORDER BY fetched_at DESC, title_en ASC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0, q.Limit)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		s         Snapshot
		attrsJSON string
		relsJSON  string
	)
	if err := row.Scan(&s.Manga.ID, &s.Manga.Type, &attrsJSON, &relsJSON, &s.FetchedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrsJSON), &s.Manga.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes for %s: %w", s.Manga.ID, err)
	}
	if err := json.Unmarshal([]byte(relsJSON), &s.Manga.Relationships); err != nil {
		return nil, fmt.Errorf("decode relationships for %s: %w", s.Manga.ID, err)
	}
	return &s, nil
}
