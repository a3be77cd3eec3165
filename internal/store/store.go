package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Message is one row of the per-user message projection. Address lists,
// headers and labels are stored as JSON text; the runner owns the
// encoding.
type Message struct {
	Provider    string    `json:"provider"`
	MessageID   string    `json:"message_id"`
	ThreadID    string    `json:"thread_id"`
	InboxID     string    `json:"inbox_id"`
	Subject     string    `json:"subject"`
	Sender      string    `json:"sender"`
	ToAddrs     string    `json:"to_addrs"`
	CcAddrs     string    `json:"cc_addrs"`
	BccAddrs    string    `json:"bcc_addrs"`
	Snippet     string    `json:"snippet"`
	LabelsJSON  string    `json:"labels"`
	HeadersJSON string    `json:"headers"`
	MessageDate time.Time `json:"message_date"`
	Deleted     bool      `json:"deleted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserStore is the per-user read model of synced messages, kept current by
// the sync runner and queried by the HTTP API.
type UserStore struct {
	basePath string
	db       *sql.DB
}

func NewUserStore(basePath string, userID string) (*UserStore, error) {
	userPath := filepath.Join(basePath, userID)
	if err := os.MkdirAll(userPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create user directory: %w", err)
	}

	dbPath := filepath.Join(userPath, "messages.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			provider     TEXT NOT NULL,
			message_id   TEXT NOT NULL,
			thread_id    TEXT,
			inbox_id     TEXT,
			subject      TEXT,
			sender       TEXT,
			to_addrs     TEXT,
			cc_addrs     TEXT,
			bcc_addrs    TEXT,
			snippet      TEXT,
			labels_json  TEXT,
			headers_json TEXT,
			message_date TIMESTAMP,
			deleted      INTEGER NOT NULL DEFAULT 0,
			updated_at   TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, message_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return &UserStore{
		basePath: userPath,
		db:       db,
	}, nil
}

func (s *UserStore) Close() error {
	return s.db.Close()
}

// UpsertMessage inserts or refreshes one synced message and clears any
// deletion tombstone.
func (s *UserStore) UpsertMessage(m Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages
		(provider, message_id, thread_id, inbox_id, subject, sender, to_addrs, cc_addrs, bcc_addrs,
		 snippet, labels_json, headers_json, message_date, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(provider, message_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			subject = excluded.subject,
			sender = excluded.sender,
			to_addrs = excluded.to_addrs,
			cc_addrs = excluded.cc_addrs,
			bcc_addrs = excluded.bcc_addrs,
			snippet = excluded.snippet,
			labels_json = excluded.labels_json,
			headers_json = excluded.headers_json,
			message_date = excluded.message_date,
			deleted = 0,
			updated_at = excluded.updated_at
	`, m.Provider, m.MessageID, m.ThreadID, m.InboxID, m.Subject, m.Sender, m.ToAddrs, m.CcAddrs,
		m.BccAddrs, m.Snippet, m.LabelsJSON, m.HeadersJSON, m.MessageDate, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// MarkDeleted tombstones a message by its primary key. Unknown ids are a
// no-op; the deletion may refer to a message never synced.
func (s *UserStore) MarkDeleted(provider, messageID string) error {
	_, err := s.db.Exec(
		"UPDATE messages SET deleted = 1, updated_at = ? WHERE provider = ? AND message_id = ?",
		time.Now(), provider, messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message deleted: %w", err)
	}
	return nil
}

// GetMessages returns synced messages, newest first, optionally filtered
// by provider and excluding tombstones unless includeDeleted is set.
func (s *UserStore) GetMessages(provider string, includeDeleted bool, limit int) ([]Message, error) {
	query := "SELECT provider, message_id, thread_id, inbox_id, subject, sender, to_addrs, cc_addrs, bcc_addrs, snippet, labels_json, headers_json, message_date, deleted, updated_at FROM messages"
	args := []interface{}{}
	where := ""

	if provider != "" {
		where = " WHERE provider = ?"
		args = append(args, provider)
	}
	if !includeDeleted {
		if where == "" {
			where = " WHERE deleted = 0"
		} else {
			where += " AND deleted = 0"
		}
	}

	query += where + " ORDER BY message_date DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Provider, &m.MessageID, &m.ThreadID, &m.InboxID, &m.Subject, &m.Sender,
			&m.ToAddrs, &m.CcAddrs, &m.BccAddrs, &m.Snippet, &m.LabelsJSON, &m.HeadersJSON,
			&m.MessageDate, &m.Deleted, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
