package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/relay/internal/domain"
)

const expandedSelect = `
	SELECT m.id, m.sender_id, m.recipient_id, m.channel_id, m.message_type,
		m.content, m.file_url, m.created_at,
		s.email, s.first_name, s.last_name, s.image, s.color,
		r.email, r.first_name, r.last_name, r.image, r.color
	FROM messages m
	LEFT JOIN users s ON s.id = m.sender_id
	LEFT JOIN users r ON r.id = m.recipient_id`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Create stores the message. A channel message is inserted and linked to its
// channel in one transaction.
func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if msg.ChannelID != nil {
			if err := touchChannel(ctx, tx, *msg.ChannelID); err != nil {
				return err
			}
		}
		query := `
			INSERT INTO messages (id, sender_id, recipient_id, channel_id, message_type, content, file_url, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := tx.Exec(ctx, query,
			msg.ID, msg.SenderID, msg.RecipientID, msg.ChannelID, msg.Type,
			msg.Content, msg.FileURL, msg.Timestamp,
		)
		if err != nil || msg.ChannelID == nil {
			return err
		}
		return linkMessage(ctx, tx, *msg.ChannelID, msg.ID)
	})
}

func (r *MessageRepo) GetExpanded(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx, expandedSelect+` WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// ListDirect returns the conversation between two users, oldest first.
func (r *MessageRepo) ListDirect(ctx context.Context, userID, otherUserID uuid.UUID) ([]domain.Message, error) {
	query := expandedSelect + `
		WHERE (m.sender_id = $1 AND m.recipient_id = $2)
			OR (m.sender_id = $2 AND m.recipient_id = $1)
		ORDER BY m.created_at, m.id`
	return r.list(ctx, query, userID, otherUserID)
}

// ListByChannel returns channel messages in the order they were linked.
func (r *MessageRepo) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT m.id, m.sender_id, m.recipient_id, m.channel_id, m.message_type,
			m.content, m.file_url, m.created_at,
			s.email, s.first_name, s.last_name, s.image, s.color,
			r.email, r.first_name, r.last_name, r.image, r.color
		FROM channel_messages cm
		JOIN messages m ON m.id = cm.message_id
		LEFT JOIN users s ON s.id = m.sender_id
		LEFT JOIN users r ON r.id = m.recipient_id
		WHERE cm.channel_id = $1
		ORDER BY cm.position`
	return r.list(ctx, query, channelID)
}

func (r *MessageRepo) list(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// joinedUser holds the nullable columns of a LEFT JOIN on users.
type joinedUser struct {
	email, firstName, lastName, image *string
	color                             *int
}

func (j joinedUser) summary(id uuid.UUID) *domain.UserSummary {
	s := &domain.UserSummary{ID: id, Image: j.image, Color: j.color}
	if j.email != nil {
		s.Email = *j.email
	}
	if j.firstName != nil {
		s.FirstName = *j.firstName
	}
	if j.lastName != nil {
		s.LastName = *j.lastName
	}
	return s
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var sender, recipient joinedUser
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.ChannelID, &msg.Type,
		&msg.Content, &msg.FileURL, &msg.Timestamp,
		&sender.email, &sender.firstName, &sender.lastName, &sender.image, &sender.color,
		&recipient.email, &recipient.firstName, &recipient.lastName, &recipient.image, &recipient.color,
	)
	if err != nil {
		return nil, err
	}
	msg.Sender = sender.summary(msg.SenderID)
	if msg.RecipientID != nil {
		msg.Recipient = recipient.summary(*msg.RecipientID)
	}
	return &msg, nil
}
