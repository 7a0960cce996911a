// Package server hosts the interpretation backend: user records, dream
// history, the LLM bridge and payment links.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"oneiro/internal/models"
)

// ErrPhoneTaken marks a registration conflict on the unique phone column.
var ErrPhoneTaken = errors.New("phone already registered")

// Migrate ensures the backend tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				first_name TEXT NOT NULL,
				last_name TEXT,
				dob TEXT NOT NULL,
				phone TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS dreams (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				request_text TEXT NOT NULL,
				response_text TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dreams_user ON dreams(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_dreams_created_at ON dreams(created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				first_name VARCHAR(100) NOT NULL,
				last_name VARCHAR(100),
				dob VARCHAR(10) NOT NULL,
				phone VARCHAR(20) NOT NULL UNIQUE,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS dreams (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				user_id BIGINT UNSIGNED NOT NULL,
				request_text MEDIUMTEXT NOT NULL,
				response_text MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_dreams_user (user_id),
				CONSTRAINT fk_dreams_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// Storage handles user and dream persistence.
type Storage struct {
	db *sql.DB
}

// NewStorage builds the storage over an opened database.
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// CreateOrFindUser returns the existing user matching first name and date of
// birth, or creates a new record. A new registration with a phone that
// belongs to someone else fails with ErrPhoneTaken.
func (s *Storage) CreateOrFindUser(ctx context.Context, firstName string, lastName *string, dob, phone string) (*models.User, error) {
	firstName = strings.TrimSpace(firstName)
	phone = strings.TrimSpace(phone)
	if firstName == "" || dob == "" || phone == "" {
		return nil, errors.New("first name, date of birth and phone are required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, dob, phone FROM users WHERE first_name = ? AND dob = ?`,
		firstName, dob,
	)
	if user, err := scanUser(row); err == nil {
		return user, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	var taken bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE phone = ?)`, phone,
	).Scan(&taken); err != nil {
		return nil, fmt.Errorf("check phone: %w", err)
	}
	if taken {
		return nil, ErrPhoneTaken
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name, dob, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
		firstName, lastName, dob, phone, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, FirstName: firstName, LastName: lastName, DOB: dob, Phone: phone}, nil
}

// GetUser loads one user by id.
func (s *Storage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, dob, phone FROM users WHERE id = ?`, id,
	)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var lastName sql.NullString
	if err := row.Scan(&user.ID, &user.FirstName, &lastName, &user.DOB, &user.Phone); err != nil {
		return nil, err
	}
	if lastName.Valid {
		user.LastName = &lastName.String
	}
	return &user, nil
}

// RecentDreams returns the user's latest dreams, newest first.
func (s *Storage) RecentDreams(ctx context.Context, userID int64, limit int) ([]models.Dream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, request_text, response_text, created_at FROM dreams
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent dreams: %w", err)
	}
	defer rows.Close()
	return scanDreams(rows)
}

// AddDream stores an interpreted dream.
func (s *Storage) AddDream(ctx context.Context, userID int64, requestText, responseText string) (*models.Dream, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dreams (user_id, request_text, response_text, created_at) VALUES (?, ?, ?, ?)`,
		userID, requestText, responseText, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert dream: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("dream id: %w", err)
	}
	return &models.Dream{ID: id, UserID: userID, RequestText: requestText, ResponseText: responseText, CreatedAt: now}, nil
}

// History flattens the user's dreams, oldest first, into the chat timeline
// shape: one user entry per dream followed by the bot's interpretation.
func (s *Storage) History(ctx context.Context, userID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, request_text, response_text, created_at FROM dreams
		 WHERE user_id = ? ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list dreams: %w", err)
	}
	defer rows.Close()

	dreams, err := scanDreams(rows)
	if err != nil {
		return nil, err
	}
	history := make([]models.Message, 0, 2*len(dreams))
	for _, d := range dreams {
		history = append(history, models.Message{Role: models.RoleUser, Text: d.RequestText})
		if d.ResponseText != "" {
			history = append(history, models.Message{Role: models.RoleBot, Text: d.ResponseText})
		}
	}
	return history, nil
}

func scanDreams(rows *sql.Rows) ([]models.Dream, error) {
	var dreams []models.Dream
	for rows.Next() {
		var d models.Dream
		if err := rows.Scan(&d.ID, &d.UserID, &d.RequestText, &d.ResponseText, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dream: %w", err)
		}
		dreams = append(dreams, d)
	}
	return dreams, rows.Err()
}
