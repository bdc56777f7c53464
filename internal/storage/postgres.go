package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/agency-assistant/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL renders the config as a postgres:// connection URL.
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.URL())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.runMigrations(config.URL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) runMigrations(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	s.logger.Info("Migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func (s *PostgresStorage) GetClient(ctx context.Context, clientID int64) (*models.Client, error) {
	query := `
		SELECT id, name, business, assistant_name, tone, use_emojis, instructions,
		       COALESCE(active_session_id::text, ''), created_at, last_used_at
		FROM clients
		WHERE id = $1`

	client := &models.Client{}
	err := s.db.QueryRowContext(ctx, query, clientID).Scan(
		&client.ID,
		&client.Name,
		&client.Business,
		&client.Personality.AssistantName,
		&client.Personality.Tone,
		&client.Personality.UseEmojis,
		&client.Personality.Instructions,
		&client.ActiveSessionID,
		&client.CreatedAt,
		&client.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Client{ID: clientID, Personality: models.Personality{UseEmojis: true}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting client: %w", err)
	}
	return client, nil
}

func (s *PostgresStorage) SaveClient(ctx context.Context, client *models.Client) error {
	query := `
		INSERT INTO clients (id, name, business, assistant_name, tone, use_emojis, instructions, active_session_id, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::uuid, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			business = EXCLUDED.business,
			assistant_name = EXCLUDED.assistant_name,
			tone = EXCLUDED.tone,
			use_emojis = EXCLUDED.use_emojis,
			instructions = EXCLUDED.instructions,
			active_session_id = EXCLUDED.active_session_id,
			last_used_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		client.ID,
		client.Name,
		client.Business,
		client.Personality.AssistantName,
		client.Personality.Tone,
		client.Personality.UseEmojis,
		client.Personality.Instructions,
		client.ActiveSessionID,
	)
	if err != nil {
		return fmt.Errorf("error saving client: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateSession(ctx context.Context, clientID int64, title string) (*models.ChatSession, error) {
	query := `
		INSERT INTO chat_sessions (id, client_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	session := &models.ChatSession{
		ID:       uuid.New().String(),
		ClientID: clientID,
		Title:    title,
	}
	if err := s.db.QueryRowContext(ctx, query, session.ID, clientID, title).Scan(&session.CreatedAt); err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return session, nil
}

func (s *PostgresStorage) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	query := `
		SELECT id, client_id, title, created_at
		FROM chat_sessions
		WHERE id = $1`

	session := &models.ChatSession{}
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.ClientID,
		&session.Title,
		&session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) || isMissingSession(err) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting session: %w", err)
	}
	return session, nil
}

func (s *PostgresStorage) ListSessions(ctx context.Context, clientID int64) ([]*models.ChatSession, error) {
	query := `
		SELECT id, client_id, title, created_at
		FROM chat_sessions
		WHERE client_id = $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ChatSession
	for rows.Next() {
		session := &models.ChatSession{}
		if err := rows.Scan(&session.ID, &session.ClientID, &session.Title, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStorage) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET title = $1 WHERE id = $2`, title, sessionID)
	if isMissingSession(err) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error updating session title: %w", err)
	}
	return expectRow(result, sessionID)
}

func (s *PostgresStorage) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE clients SET active_session_id = NULL WHERE active_session_id = $1`, sessionID)
	if isMissingSession(err) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error clearing active session: %w", err)
	}
	// chat_messages rows go with it through ON DELETE CASCADE
	result, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	if err := expectRow(result, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStorage) AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error {
	return insertMessage(ctx, s.db, sessionID, msg)
}

func (s *PostgresStorage) AppendExchange(ctx context.Context, sessionID string, user, reply *models.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, sessionID, user); err != nil {
		return err
	}
	if err := insertMessage(ctx, tx, sessionID, reply); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing exchange: %w", err)
	}
	return nil
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertMessage(ctx context.Context, q rowQuerier, sessionID string, msg *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, session_id, role, content, image)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING created_at`

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.SessionID = sessionID

	err := q.QueryRowContext(ctx, query,
		msg.ID,
		sessionID,
		string(msg.Role),
		msg.Content,
		msg.Image,
	).Scan(&msg.CreatedAt)
	if isMissingSession(err) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error appending message: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	query := `
		SELECT id, session_id, role, content, COALESCE(image, ''), created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Image, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func expectRow(result sql.Result, sessionID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// isMissingSession reports whether err means the referenced session does
// not exist: a foreign key violation or an id that is not a valid UUID.
func isMissingSession(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23503" || pqErr.Code == "22P02"
}
