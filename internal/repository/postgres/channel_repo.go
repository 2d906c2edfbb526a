package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/repository"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) Create(ctx context.Context, ch *domain.Channel) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO channels (id, name, admin_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.Exec(ctx, query, ch.ID, ch.Name, ch.AdminID, ch.CreatedAt, ch.UpdatedAt); err != nil {
			return err
		}
		for _, memberID := range ch.Members {
			_, err := tx.Exec(ctx,
				`INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				ch.ID, memberID,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	query := `SELECT id, name, admin_id, created_at, updated_at FROM channels WHERE id = $1`
	var ch domain.Channel
	err := r.pool.QueryRow(ctx, query, id).Scan(&ch.ID, &ch.Name, &ch.AdminID, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if ch.Members, err = r.memberIDs(ctx, id); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT message_id FROM channel_messages WHERE channel_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	ch.MessageIDs, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListForUser returns channels where the user is admin or member, most
// recently active first.
func (r *ChannelRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Channel, error) {
	query := `
		SELECT c.id, c.name, c.admin_id, c.created_at, c.updated_at
		FROM channels c
		WHERE c.admin_id = $1
			OR EXISTS (SELECT 1 FROM channel_members cm WHERE cm.channel_id = c.id AND cm.user_id = $1)
		ORDER BY c.updated_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.AdminID, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range channels {
		if channels[i].Members, err = r.memberIDs(ctx, channels[i].ID); err != nil {
			return nil, err
		}
	}
	return channels, nil
}

func (r *ChannelRepo) AppendMessage(ctx context.Context, channelID, messageID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return appendMessage(ctx, tx, channelID, messageID)
	})
}

func (r *ChannelRepo) GetMembers(ctx context.Context, channelID uuid.UUID) (*domain.ChannelMembers, error) {
	cm := domain.ChannelMembers{ChannelID: channelID}
	err := r.pool.QueryRow(ctx, `SELECT admin_id FROM channels WHERE id = $1`, channelID).Scan(&cm.AdminID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cm.Members, err = r.memberIDs(ctx, channelID); err != nil {
		return nil, err
	}
	return &cm, nil
}

func (r *ChannelRepo) memberIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM channel_members WHERE channel_id = $1 ORDER BY user_id`, channelID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func appendMessage(ctx context.Context, q execer, channelID, messageID uuid.UUID) error {
	if err := touchChannel(ctx, q, channelID); err != nil {
		return err
	}
	return linkMessage(ctx, q, channelID, messageID)
}

// touchChannel bumps updated_at, which also row-locks the channel so
// concurrent appends to it serialize.
func touchChannel(ctx context.Context, q execer, channelID uuid.UUID) error {
	tag, err := q.Exec(ctx, `UPDATE channels SET updated_at = $2 WHERE id = $1`, channelID, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrChannelNotFound
	}
	return nil
}

func linkMessage(ctx context.Context, q execer, channelID, messageID uuid.UUID) error {
	_, err := q.Exec(ctx,
		`INSERT INTO channel_messages (channel_id, message_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		channelID, messageID,
	)
	return err
}
