package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrInvalidToken means the credentials carry no verified identity. A
// connection presenting such a token is refused before it can do anything.
var ErrInvalidToken = errors.New("invalid token")

// Authenticator resolves ambient credentials to a stable user identity.
type Authenticator interface {
	Identify(ctx context.Context, token string) (int, error)
}

// PostgresAuthenticator validates session tokens against the surrounding
// application's session table.
type PostgresAuthenticator struct {
	db *sqlx.DB
}

// NewPostgresAuthenticator constructs the authenticator.
func NewPostgresAuthenticator(db *sqlx.DB) *PostgresAuthenticator {
	return &PostgresAuthenticator{db: db}
}

// Identify returns the user id for a live session token.
func (a *PostgresAuthenticator) Identify(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}

	var userID int
	err := a.db.GetContext(ctx, &userID,
		`SELECT user_id FROM auth_sessions WHERE token=$1 AND expires_at > NOW()`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, fmt.Errorf("look up session: %w", err)
	}
	return userID, nil
}
