package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatwire/internal/models"

	_ "modernc.org/sqlite"
)

var (
	ErrUserExists = errors.New("user already exists")

	// ErrLogUnavailable wraps any storage failure on the message log so the
	// core can report persistence problems to the sender instead of
	// silently dropping the message.
	ErrLogUnavailable = errors.New("message log unavailable")
)

const currentSchemaVersion = 1

type Database struct {
	*sql.DB
}

func New(dataSourceName string) (*Database, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(4) // SQLite is single-writer; more connections waste FDs and increase lock contention
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Database{db}, nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if version < 1 {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := createTablesInTx(tx); err != nil {
			return err
		}
		if _, err := tx.Exec("PRAGMA user_version = 1"); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func createTablesInTx(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			username TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room, timestamp, id);
	`)
	return err
}

func (db *Database) CreateUserIfNotExists(id, username, passwordHash string) error {
	result, err := db.Exec(
		"INSERT OR IGNORE INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		id, username, passwordHash, time.Now(),
	)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrUserExists
	}
	return nil
}

func (db *Database) GetUserByUsername(username string) (*models.User, error) {
	user := &models.User{}
	err := db.QueryRow(
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AppendMessage durably stores the message and returns the committed record
// with its assigned log ID. The caller must not broadcast a message that was
// not committed here first.
func (db *Database) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	result, err := db.ExecContext(ctx,
		"INSERT INTO messages (room, username, text, timestamp) VALUES (?, ?, ?, ?)",
		msg.Room, msg.Username, msg.Text, msg.Timestamp,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	msg.ID = id
	return msg, nil
}

// RoomHistory returns the room's messages in ascending timestamp order, ties
// broken by insertion order. One-shot query, not a subscription.
func (db *Database) RoomHistory(ctx context.Context, room string) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, room, username, text, timestamp FROM messages WHERE room = ? ORDER BY timestamp ASC, id ASC",
		room,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.Room, &msg.Username, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return messages, nil
}
