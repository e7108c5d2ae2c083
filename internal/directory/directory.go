package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
)

// User is the display profile for a participant.
type User struct {
	ID    int    `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}

// Conversation is the directory's view of a conversation: membership and
// display metadata, never messages.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Directory maps conversation identifiers to their participant sets and
// metadata. It is a pure lookup service; membership changes happen elsewhere.
type Directory interface {
	IsParticipant(ctx context.Context, conversationID string, userID int) (bool, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]User, error)
	GetUser(ctx context.Context, userID int) (User, error)
}

// PostgresDirectory reads the conversations and users tables owned by the
// surrounding application.
type PostgresDirectory struct {
	db *sqlx.DB
}

// NewPostgresDirectory constructs the directory.
func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// IsParticipant reports whether the user belongs to the conversation.
func (d *PostgresDirectory) IsParticipant(ctx context.Context, conversationID string, userID int) (bool, error) {
	var exists bool
	err := d.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id=$1 AND user_id=$2
		)`, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

// GetConversation retrieves conversation metadata.
func (d *PostgresDirectory) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var conv Conversation
	err := d.db.GetContext(ctx, &conv,
		`SELECT id, COALESCE(name, '') AS name, is_group, created_at, updated_at
		 FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// Participants returns the conversation's member profiles.
func (d *PostgresDirectory) Participants(ctx context.Context, conversationID string) ([]User, error) {
	var users []User
	err := d.db.SelectContext(ctx, &users,
		`SELECT u.id, TRIM(u.first_name || ' ' || u.last_name) AS name, u.email
		 FROM users u
		 JOIN conversation_participants cp ON cp.user_id = u.id
		 WHERE cp.conversation_id=$1
		 ORDER BY u.id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return users, nil
}

// GetUser retrieves a single user's display profile.
func (d *PostgresDirectory) GetUser(ctx context.Context, userID int) (User, error) {
	var user User
	err := d.db.GetContext(ctx, &user,
		`SELECT id, TRIM(first_name || ' ' || last_name) AS name, email
		 FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
