package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the scripts table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS scripts (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    raw_text   TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'uploaded',
    characters JSONB NOT NULL DEFAULT '[]',
    lines      JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_scripts_created ON scripts(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The character
// roster and line sequence are serialised as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] over the given connection or
// pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the scripts table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("script: migrate: %w", err)
	}
	return nil
}

// Add inserts a new script.
func (s *PostgresStore) Add(ctx context.Context, sc *Script) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	charsJSON, linesJSON, err := marshalParts(sc)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO scripts (id, title, raw_text, status, characters, lines)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		sc.ID, sc.Title, sc.RawText, string(sc.Status), charsJSON, linesJSON,
	).Scan(&sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("script: %q already exists", sc.ID)
		}
		return fmt.Errorf("script: add: %w", err)
	}
	return nil
}

// Get retrieves a script by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Script, error) {
	const query = `
		SELECT id, title, raw_text, status, characters, lines, created_at, updated_at
		FROM scripts
		WHERE id = $1`

	sc, err := scanScript(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("script: get %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("script: get %q: %w", id, err)
	}
	return sc, nil
}

// Update applies fn to the current row's value and writes the result back.
// The read and write happen in separate statements guarded by updated_at,
// retrying once on a concurrent write.
func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*Script) error) (*Script, error) {
	for attempt := 0; attempt < 2; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		prev := cur.UpdatedAt

		next := cur.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.ID = cur.ID
		if err := next.Validate(); err != nil {
			return nil, err
		}
		charsJSON, linesJSON, err := marshalParts(next)
		if err != nil {
			return nil, err
		}

		const query = `
			UPDATE scripts SET
				title = $2, raw_text = $3, status = $4,
				characters = $5, lines = $6, updated_at = now()
			WHERE id = $1 AND updated_at = $7
			RETURNING updated_at`

		err = s.db.QueryRow(ctx, query,
			next.ID, next.Title, next.RawText, string(next.Status),
			charsJSON, linesJSON, prev,
		).Scan(&next.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // concurrent update, re-read and retry
		}
		if err != nil {
			return nil, fmt.Errorf("script: update %q: %w", id, err)
		}
		return next, nil
	}
	return nil, fmt.Errorf("script: update %q: too many concurrent writes", id)
}

// Remove deletes a script by ID. Removing a missing script is not an error.
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	const query = `DELETE FROM scripts WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("script: remove %q: %w", id, err)
	}
	return nil
}

// List returns all scripts, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]Script, error) {
	const query = `
		SELECT id, title, raw_text, status, characters, lines, created_at, updated_at
		FROM scripts
		ORDER BY created_at DESC, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("script: list: %w", err)
	}
	defer rows.Close()

	var out []Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("script: list: %w", err)
		}
		out = append(out, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("script: list: %w", err)
	}
	return out, nil
}

func marshalParts(sc *Script) (charsJSON, linesJSON []byte, err error) {
	chars := sc.Characters
	if chars == nil {
		chars = []Character{}
	}
	lines := sc.Lines
	if lines == nil {
		lines = []Line{}
	}
	if charsJSON, err = json.Marshal(chars); err != nil {
		return nil, nil, fmt.Errorf("script: marshal characters: %w", err)
	}
	if linesJSON, err = json.Marshal(lines); err != nil {
		return nil, nil, fmt.Errorf("script: marshal lines: %w", err)
	}
	return charsJSON, linesJSON, nil
}

func scanScript(row pgx.Row) (*Script, error) {
	var sc Script
	var status string
	var charsJSON, linesJSON []byte
	var created, updated time.Time

	err := row.Scan(&sc.ID, &sc.Title, &sc.RawText, &status,
		&charsJSON, &linesJSON, &created, &updated)
	if err != nil {
		return nil, err
	}
	sc.Status = Status(status)
	sc.CreatedAt = created
	sc.UpdatedAt = updated
	if err := json.Unmarshal(charsJSON, &sc.Characters); err != nil {
		return nil, fmt.Errorf("unmarshal characters: %w", err)
	}
	if err := json.Unmarshal(linesJSON, &sc.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal lines: %w", err)
	}
	return &sc, nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique-violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
