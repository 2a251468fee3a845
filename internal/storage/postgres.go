package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/xboty/ticketbot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	UseFiles bool
}

// PostgresStorage backs the same Storage contract with a database for
// deployments where the flat-file layout is not durable enough.
// Conversations are stored as one JSONB document per channel so the
// append-only log keeps its order.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) LoadConversation(channelID int64) ([]models.Turn, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT turns FROM conversations WHERE channel_id = $1`, channelID).Scan(&raw)
	if err == sql.ErrNoRows {
		return []models.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading conversation: %w", err)
	}

	var turns []models.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return []models.Turn{}, nil
	}
	return turns, nil
}

func (s *PostgresStorage) SaveConversation(channelID int64, turns []models.Turn) error {
	if turns == nil {
		turns = []models.Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("error encoding conversation: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO conversations (channel_id, turns, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (channel_id) DO UPDATE SET turns = $2, updated_at = NOW()`,
		channelID, raw)
	if err != nil {
		return fmt.Errorf("error saving conversation: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ClearConversation(channelID int64) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("error clearing conversation: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM attachments WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("error clearing attachments: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListConversations() ([]int64, error) {
	rows, err := s.db.Query(`SELECT channel_id FROM conversations ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStorage) loadSet(name string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT channel_id FROM channel_sets WHERE set_name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("error loading channel set %s: %w", name, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStorage) saveSet(name string, ids []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM channel_sets WHERE set_name = $1`, name); err != nil {
		return fmt.Errorf("error clearing channel set %s: %w", name, err)
	}
	for _, id := range ids {
		if _, err := tx.Exec(`INSERT INTO channel_sets (set_name, channel_id) VALUES ($1, $2)`, name, id); err != nil {
			return fmt.Errorf("error inserting into channel set %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStorage) LoadActiveChannels() ([]int64, error) { return s.loadSet("active") }
func (s *PostgresStorage) SaveActiveChannels(ids []int64) error { return s.saveSet("active", ids) }
func (s *PostgresStorage) LoadPausedChannels() ([]int64, error) { return s.loadSet("paused") }
func (s *PostgresStorage) SavePausedChannels(ids []int64) error { return s.saveSet("paused", ids) }

func (s *PostgresStorage) LoadStatuses() (map[string]models.TicketStatus, error) {
	rows, err := s.db.Query(`SELECT ticket_id, status FROM ticket_status`)
	if err != nil {
		return nil, fmt.Errorf("error loading statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]models.TicketStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("error scanning status: %w", err)
		}
		statuses[id] = models.TicketStatus(status)
	}
	return statuses, rows.Err()
}

func (s *PostgresStorage) SetStatus(ticketID string, status models.TicketStatus) error {
	_, err := s.db.Exec(`
		INSERT INTO ticket_status (ticket_id, status)
		VALUES ($1, $2)
		ON CONFLICT (ticket_id) DO UPDATE SET status = $2`,
		ticketID, string(status))
	if err != nil {
		return fmt.Errorf("error setting status: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AppendAdminLog(entry models.AdminLogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO admin_logs (id, admin, action, ticket_id, message, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), entry.Admin, entry.Action, entry.TicketID, entry.Message, entry.Time)
	if err != nil {
		return fmt.Errorf("error appending admin log: %w", err)
	}
	return nil
}

func (s *PostgresStorage) LoadAdminLogs() ([]models.AdminLogEntry, error) {
	rows, err := s.db.Query(`
		SELECT admin, action, ticket_id, message, logged_at
		FROM admin_logs
		ORDER BY logged_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error loading admin logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AdminLogEntry
	for rows.Next() {
		var entry models.AdminLogEntry
		if err := rows.Scan(&entry.Admin, &entry.Action, &entry.TicketID, &entry.Message, &entry.Time); err != nil {
			return nil, fmt.Errorf("error scanning admin log: %w", err)
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *PostgresStorage) SaveAttachment(channelID int64, filename string, data []byte) (string, error) {
	name := sanitizeFilename(filename)
	if name == "" {
		name = uuid.New().String()
	}
	path := fmt.Sprintf("/attachments/%d/%s", channelID, name)

	_, err := s.db.Exec(`
		INSERT INTO attachments (id, channel_id, filename, storage_path, data)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), channelID, name, path, data)
	if err != nil {
		return "", fmt.Errorf("error saving attachment: %w", err)
	}
	return path, nil
}

func (s *PostgresStorage) ListAttachments(channelID int64) ([]models.AttachmentRef, error) {
	rows, err := s.db.Query(`
		SELECT filename, storage_path
		FROM attachments
		WHERE channel_id = $1
		ORDER BY created_at`, channelID)
	if err != nil {
		return nil, fmt.Errorf("error listing attachments: %w", err)
	}
	defer rows.Close()

	var refs []models.AttachmentRef
	for rows.Next() {
		var ref models.AttachmentRef
		if err := rows.Scan(&ref.Filename, &ref.StoragePath); err != nil {
			return nil, fmt.Errorf("error scanning attachment: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
