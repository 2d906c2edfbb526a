package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/repository"
)

type channelRecord struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	AdminID   uuid.UUID   `json:"admin_id"`
	Members   []uuid.UUID `json:"members"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type ChannelRepo struct {
	db *badger.DB
}

func NewChannelRepo(db *badger.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Create(ctx context.Context, ch *domain.Channel) error {
	return update(ctx, r.db, func(txn *badger.Txn) error {
		rec := channelRecord{
			ID:        ch.ID,
			Name:      ch.Name,
			AdminID:   ch.AdminID,
			Members:   ch.Members,
			CreatedAt: ch.CreatedAt,
			UpdatedAt: ch.UpdatedAt,
		}
		if err := setJSON(txn, channelKey(ch.ID), rec); err != nil {
			return err
		}
		for _, userID := range append([]uuid.UUID{ch.AdminID}, ch.Members...) {
			if err := txn.Set([]byte(userChannelKey(userID, ch.ID)), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	var ch *domain.Channel
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		rec, err := loadChannel(txn, id)
		if err != nil || rec == nil {
			return err
		}
		ch = rec.toDomain()
		ch.MessageIDs, err = scanIDs(txn, channelMessagePrefix(id))
		return err
	})
	return ch, err
}

func (r *ChannelRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Channel, error) {
	var channels []domain.Channel
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		prefix := fmt.Sprintf("uch:%s:", userID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []uuid.UUID
		for it.Rewind(); it.Valid(); it.Next() {
			id, err := uuid.Parse(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		for _, id := range ids {
			rec, err := loadChannel(txn, id)
			if err != nil {
				return err
			}
			if rec != nil {
				channels = append(channels, *rec.toDomain())
			}
		}
		return nil
	})
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].UpdatedAt.After(channels[j].UpdatedAt)
	})
	return channels, err
}

func (r *ChannelRepo) AppendMessage(ctx context.Context, channelID, messageID uuid.UUID) error {
	return update(ctx, r.db, func(txn *badger.Txn) error {
		return appendMessage(txn, channelID, messageID, time.Now())
	})
}

func (r *ChannelRepo) GetMembers(ctx context.Context, channelID uuid.UUID) (*domain.ChannelMembers, error) {
	var cm *domain.ChannelMembers
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		rec, err := loadChannel(txn, channelID)
		if err != nil || rec == nil {
			return err
		}
		cm = &domain.ChannelMembers{ChannelID: rec.ID, Members: rec.Members, AdminID: rec.AdminID}
		return nil
	})
	return cm, err
}

func loadChannel(txn *badger.Txn, id uuid.UUID) (*channelRecord, error) {
	var rec channelRecord
	found, err := getJSON(txn, channelKey(id), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// appendMessage links messageID to the channel once. The channel record is
// rewritten with a fresh UpdatedAt so concurrent appends conflict and retry.
func appendMessage(txn *badger.Txn, channelID, messageID uuid.UUID, at time.Time) error {
	rec, err := loadChannel(txn, channelID)
	if err != nil {
		return err
	}
	if rec == nil {
		return repository.ErrChannelNotFound
	}

	link := channelLinkKey(channelID, messageID)
	_, err = txn.Get([]byte(link))
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	key := fmt.Sprintf("%s%019d:%s", channelMessagePrefix(channelID), at.UnixNano(), messageID)
	if err := txn.Set([]byte(key), messageID[:]); err != nil {
		return err
	}
	if err := txn.Set([]byte(link), []byte(key)); err != nil {
		return err
	}
	rec.UpdatedAt = at
	return setJSON(txn, channelKey(channelID), rec)
}

func (rec *channelRecord) toDomain() *domain.Channel {
	return &domain.Channel{
		ID:        rec.ID,
		Name:      rec.Name,
		AdminID:   rec.AdminID,
		Members:   rec.Members,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
