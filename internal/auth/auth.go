package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
)

const sessionTTL = 7 * 24 * time.Hour

// Service manages dashboard operator accounts and their bearer sessions.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// EnsureDefaultUser creates the first operator when the table is empty.
func (s *Service) EnsureDefaultUser(username, password string) error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return errors.Wrap(err, "count users")
	}
	if count > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	if _, err = s.db.Exec("INSERT INTO users (username, password_hash) VALUES (?, ?)", username, string(hash)); err != nil {
		return errors.Wrap(err, "insert default user")
	}
	log.WithField("user", username).Info("Created default operator")
	return nil
}

func (s *Service) Login(username, password string) (string, error) {
	var id int64
	var hash string
	err := s.db.QueryRow("SELECT id, password_hash FROM users WHERE username = ?", username).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	expires := s.now().Add(sessionTTL)
	if _, err = s.db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)", token, id, expires); err != nil {
		return "", errors.Wrap(err, "insert session")
	}
	return token, nil
}

func (s *Service) ValidateSession(token string) (*User, error) {
	var user User
	var expiresAt time.Time
	err := s.db.QueryRow(`
		SELECT u.id, u.username, s.expires_at
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ?
	`, token).Scan(&user.ID, &user.Username, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	if s.now().After(expiresAt) {
		if _, err := s.db.Exec("DELETE FROM sessions WHERE token = ?", token); err != nil {
			log.WithField("user", user.Username).Warnf("auth: delete expired session: %v", err)
		}
		return nil, ErrSessionExpired
	}
	return &user, nil
}

func (s *Service) Logout(token string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE token = ?", token)
	return errors.Wrap(err, "delete session")
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
