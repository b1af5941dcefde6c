package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/icheftech/fredrick-ai/internal/config"
)

// JournalTurn is one persisted turn row. Seq is per-session and gap-free for
// journaled exchanges: user turns take even numbers, their replies the next
// odd one.
type JournalTurn struct {
	ID        int64
	SessionID string
	Seq       int64
	Role      string
	Content   string
	Status    string
	CreatedAt time.Time
}

// Journal keeps a durable record of completed exchanges in SQLite. With
// retention_mode=ephemeral (or the journal disabled) every method is a no-op,
// which keeps callers free of persistence conditionals.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// OpenJournal initializes the journal according to config.
func OpenJournal(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	if !cfg.Enabled || cfg.RetentionMode == "ephemeral" {
		return &Journal{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := j.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE(session_id, seq),
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_turns_session_seq ON turns(session_id, seq);
`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// AppendExchange records a completed user/assistant pair in one transaction,
// creating the session row on first use.
func (j *Journal) AppendExchange(ctx context.Context, sessionID string, user, assistant Turn) error {
	if j.db == nil {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := j.clock().UTC()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now); err != nil {
		return err
	}

	var next int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?`,
		sessionID).Scan(&next); err != nil {
		return err
	}

	for i, turn := range []Turn{user, assistant} {
		created := turn.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO turns(session_id, seq, role, content, status, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			sessionID, next+int64(i), string(turn.Role), turn.Content, turn.Status, created.UTC()); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// ListTurns retrieves up to limit turns for a session in append order.
func (j *Journal) ListTurns(ctx context.Context, sessionID string, limit int) ([]JournalTurn, error) {
	if j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, seq, role, content, status, created_at
		 FROM turns WHERE session_id = ? ORDER BY seq ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []JournalTurn
	for rows.Next() {
		var t JournalTurn
		var created string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Role, &t.Content, &t.Status, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			t.CreatedAt = ts
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Prune applies configured retention. Called on startup; cheap enough to
// schedule alongside the idle sweeper if journals grow hot.
func (j *Journal) Prune(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if j.cfg.RetentionDays > 0 {
		cutoff := j.clock().Add(-time.Duration(j.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if j.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, j.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
