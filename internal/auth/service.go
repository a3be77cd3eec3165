package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers unknown users and wrong passwords alike, so
// login responses never reveal which one failed.
var ErrInvalidCredentials = errors.New("invalid username or password")

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT UNIQUE NOT NULL,
	password   TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// User is a local account of the sync service. The password field holds a
// bcrypt hash and is never serialized.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Service manages local user accounts in the auth database.
type Service struct {
	db *sql.DB
}

// NewService applies the users schema and returns the account service.
func NewService(db *sql.DB) (*Service, error) {
	if _, err := db.Exec(usersSchema); err != nil {
		return nil, fmt.Errorf("apply users schema: %w", err)
	}
	return &Service{db: db}, nil
}

// Register creates an account with a bcrypt-hashed password. Usernames are
// unique; a taken name fails the insert.
func (s *Service) Register(username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		Username:  username,
		Password:  string(hash),
		CreatedAt: time.Now(),
	}

	res, err := s.db.Exec(
		"INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)",
		user.Username, user.Password, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	user.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies a username/password pair and returns the account.
func (s *Service) Authenticate(username, password string) (*User, error) {
	user := &User{}
	err := s.db.QueryRow(
		"SELECT id, username, password, created_at FROM users WHERE username = ?",
		username,
	).Scan(&user.ID, &user.Username, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
