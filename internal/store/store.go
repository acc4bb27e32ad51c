// Package store persists users and chat messages in an embedded SQLite
// database shared by every connection handler. All writes run inside a
// transaction with a bounded busy-retry loop so concurrent handlers tolerate
// lock contention instead of failing on first conflict.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxAttempts = 3
	retryDelay  = 100 * time.Millisecond

	// Matches the 3000ms busy timeout the driver applies before a statement
	// reports SQLITE_BUSY at all; the retry loop sits on top of it.
	busyTimeoutMs = 3000
)

// ErrUserExists is returned by RegisterUser when the username is already taken.
var ErrUserExists = errors.New("store: username already exists")

// Message is one persisted chat message. Within a room, ID order equals
// insertion order.
type Message struct {
	ID        int64
	Room      string
	Sender    string
	Content   string
	Timestamp string
}

// Store wraps the SQLite database used for user accounts and message history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures both tables exist.
// A failure here is fatal to the process; callers are expected to exit.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize database %s: %w", path, err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// init creates the users and messages tables if they do not exist yet. Both
// statements run in one transaction so a fresh database appears atomically.
func (s *Store) init() error {
	return s.withRetry("init", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL
		)`); err != nil {
			return err
		}
		_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`)
		return err
	})
}

// RegisterUser hashes the password and inserts a new user row. It returns
// ErrUserExists when the username is already present; the stored row is never
// overwritten.
func (s *Store) RegisterUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.withRetry("register user", func(tx *sql.Tx) error {
		_, err := tx.Exec(
			"INSERT INTO users (username, password_hash) VALUES (?, ?)",
			username, string(hash),
		)
		return err
	})
	if isConstraintViolation(err) {
		return ErrUserExists
	}
	return err
}

// Authenticate reports whether the supplied password matches the stored hash
// for username. An unknown user authenticates as false without error.
func (s *Store) Authenticate(username, password string) (bool, error) {
	var hash string
	err := s.withRetry("authenticate user", func(tx *sql.Tx) error {
		return tx.QueryRow(
			"SELECT password_hash FROM users WHERE username = ?",
			username,
		).Scan(&hash)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// SaveMessage appends one message row for room. The timestamp is stored as
// supplied by the client and not validated.
func (s *Store) SaveMessage(room, sender, content, timestamp string) error {
	return s.withRetry("save message", func(tx *sql.Tx) error {
		_, err := tx.Exec(
			"INSERT INTO messages (room, sender, content, timestamp) VALUES (?, ?, ?, ?)",
			room, sender, content, timestamp,
		)
		return err
	})
}

// History returns every message stored for room, oldest first.
func (s *Store) History(room string) ([]Message, error) {
	var messages []Message
	err := s.withRetry("load history", func(tx *sql.Tx) error {
		rows, err := tx.Query(
			"SELECT id, sender, content, timestamp FROM messages WHERE room = ? ORDER BY id ASC",
			room,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		messages = messages[:0]
		for rows.Next() {
			msg := Message{Room: room}
			if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// withRetry runs op inside a BEGIN/COMMIT transaction, retrying up to
// maxAttempts times when SQLite reports that another writer holds the lock.
// Any non-busy error aborts immediately: retrying cannot fix a schema or
// syntax defect.
func (s *Store) withRetry(name string, op func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.runTx(op)
		if err == nil || !isBusy(err) {
			return err
		}
		log.Printf("Database busy during %s (attempt %d/%d), retrying", name, attempt, maxAttempts)
		time.Sleep(retryDelay)
	}
	log.Printf("Giving up on %s after %d attempts: %v", name, maxAttempts, err)
	return fmt.Errorf("%s: database busy after %d attempts: %w", name, maxAttempts, err)
}

func (s *Store) runTx(op func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := op(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraintViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrConstraint
	}
	return false
}
