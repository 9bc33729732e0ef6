// Package store persists conversation history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns int
	Logger       *slog.Logger
}

// SQLiteStore implements domain.ConversationStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConns := opts.MaxOpenConns
	if maxConns < 1 {
		maxConns = 1
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// AppendExchange writes the user message and the assistant reply in one
// transaction. Either both rows exist afterwards or neither does.
func (s *SQLiteStore) AppendExchange(ctx context.Context, in domain.ExchangeInput) (*domain.Exchange, error) {
	now := s.now()
	ex := &domain.Exchange{ID: uuid.NewString()}
	ex.User = domain.Message{
		ID:         uuid.NewString(),
		ExchangeID: ex.ID,
		Role:       domain.RoleUser,
		Content:    in.UserContent,
		Source:     in.Source,
		Address:    in.Address,
		CreatedAt:  now,
	}
	ex.Assistant = ex.User
	ex.Assistant.ID = uuid.NewString()
	ex.Assistant.Role = domain.RoleAssistant
	ex.Assistant.Content = in.AssistantContent

	err := withTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		if err := insertMessage(ctx, tx, ex.User); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		if err := insertMessage(ctx, tx, ex.Assistant); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewError(domain.KindPersistence, "append exchange", err)
	}

	s.logger.Debug("exchange stored", "exchange_id", ex.ID, "source", in.Source)
	return ex, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m domain.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, exchange_id, role, content, source, address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ExchangeID, string(m.Role), m.Content, string(m.Source), m.Address,
		m.CreatedAt.Format(timeLayout),
	)
	return err
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ListMessages returns up to limit of the most recent messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exchange_id, role, content, source, address, created_at
		 FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.NewError(domain.KindPersistence, "list messages", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			role, src string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ExchangeID, &role, &m.Content, &src, &m.Address, &createdAt); err != nil {
			return nil, domain.NewError(domain.KindPersistence, "scan message", err)
		}
		m.Role = domain.Role(role)
		m.Source = domain.Source(src)
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, domain.NewError(domain.KindPersistence, "scan message", fmt.Errorf("message %s: bad created_at %q: %w", m.ID, createdAt, err))
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindPersistence, "iterate messages", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, domain.NewError(domain.KindPersistence, "count messages", err)
	}
	return n, nil
}

// Ping runs SELECT 1 against the pool.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return domain.NewError(domain.KindPersistence, "ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
