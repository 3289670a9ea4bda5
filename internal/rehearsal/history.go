package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/offbook/offbook/internal/script"
	"github.com/offbook/offbook/internal/transcript"
)

// AttemptsSchema is the SQL DDL for the line_attempts table. Execute it via
// [PostgresAttemptStore.Migrate] or apply it manually during deployment.
const AttemptsSchema = `
CREATE TABLE IF NOT EXISTS line_attempts (
    id              TEXT PRIMARY KEY,
    script_id       TEXT NOT NULL,
    line_id         TEXT NOT NULL,
    accuracy        INT NOT NULL,
    word_match_rate INT NOT NULL,
    expected_words  INT NOT NULL,
    spoken_words    INT NOT NULL,
    matched_words   INT NOT NULL,
    elapsed_ms      BIGINT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_line_attempts_script ON line_attempts(script_id, created_at DESC);
`

// Attempt is one scored delivery of a single line, persisted for progress
// tracking across sessions.
type Attempt struct {
	ID        string             `json:"id"`
	ScriptID  string             `json:"scriptId"`
	LineID    string             `json:"lineId"`
	Metrics   transcript.Metrics `json:"metrics"`
	CreatedAt time.Time          `json:"createdAt"`
}

// AttemptStore persists scored line attempts.
type AttemptStore interface {
	// Record stores one attempt, assigning an ID when none is set.
	Record(ctx context.Context, a *Attempt) error

	// ListByScript returns the attempts recorded for a script, newest first.
	ListByScript(ctx context.Context, scriptID string) ([]Attempt, error)
}

// PostgresAttemptStore is an [AttemptStore] backed by PostgreSQL.
type PostgresAttemptStore struct {
	db script.DB
}

var _ AttemptStore = (*PostgresAttemptStore)(nil)

// NewPostgresAttemptStore creates a store over the given connection or pool.
// Call [PostgresAttemptStore.Migrate] before issuing queries.
func NewPostgresAttemptStore(db script.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

// Migrate executes the [AttemptsSchema] DDL.
func (s *PostgresAttemptStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, AttemptsSchema); err != nil {
		return fmt.Errorf("rehearsal: migrate attempts: %w", err)
	}
	return nil
}

// Record inserts one attempt.
func (s *PostgresAttemptStore) Record(ctx context.Context, a *Attempt) error {
	if a.ScriptID == "" || a.LineID == "" {
		return errors.New("rehearsal: attempt needs script and line IDs")
	}
	if a.ID == "" {
		a.ID = script.NewID("att")
	}

	const query = `
		INSERT INTO line_attempts
			(id, script_id, line_id, accuracy, word_match_rate,
			 expected_words, spoken_words, matched_words, elapsed_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		a.ID, a.ScriptID, a.LineID,
		a.Metrics.Accuracy, a.Metrics.WordMatchRate,
		a.Metrics.ExpectedWords, a.Metrics.SpokenWords, a.Metrics.MatchedWords,
		a.Metrics.Elapsed.Milliseconds(),
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("rehearsal: record attempt: %w", err)
	}
	return nil
}

// ListByScript returns the attempts recorded for a script, newest first.
func (s *PostgresAttemptStore) ListByScript(ctx context.Context, scriptID string) ([]Attempt, error) {
	const query = `
		SELECT id, script_id, line_id, accuracy, word_match_rate,
		       expected_words, spoken_words, matched_words, elapsed_ms, created_at
		FROM line_attempts
		WHERE script_id = $1
		ORDER BY created_at DESC, id`

	rows, err := s.db.Query(ctx, query, scriptID)
	if err != nil {
		return nil, fmt.Errorf("rehearsal: list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("rehearsal: list attempts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rehearsal: list attempts: %w", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var a Attempt
	var elapsedMS int64
	err := row.Scan(&a.ID, &a.ScriptID, &a.LineID,
		&a.Metrics.Accuracy, &a.Metrics.WordMatchRate,
		&a.Metrics.ExpectedWords, &a.Metrics.SpokenWords, &a.Metrics.MatchedWords,
		&elapsedMS, &a.CreatedAt)
	if err != nil {
		return Attempt{}, err
	}
	a.Metrics.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	a.Metrics.ElapsedMillis = elapsedMS
	return a, nil
}

// MemoryAttemptStore is an in-memory [AttemptStore] for tests and for
// deployments without a database.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts []Attempt
}

var _ AttemptStore = (*MemoryAttemptStore)(nil)

// NewMemoryAttemptStore creates an empty in-memory store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{}
}

// Record stores one attempt.
func (s *MemoryAttemptStore) Record(_ context.Context, a *Attempt) error {
	if a.ScriptID == "" || a.LineID == "" {
		return errors.New("rehearsal: attempt needs script and line IDs")
	}
	if a.ID == "" {
		a.ID = script.NewID("att")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

// ListByScript returns the attempts recorded for a script, newest first.
func (s *MemoryAttemptStore) ListByScript(_ context.Context, scriptID string) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if s.attempts[i].ScriptID == scriptID {
			out = append(out, s.attempts[i])
		}
	}
	return out, nil
}
