package badgerdb

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/domain"
)

type messageRecord struct {
	ID          uuid.UUID          `json:"id"`
	SenderID    uuid.UUID          `json:"sender_id"`
	RecipientID *uuid.UUID         `json:"recipient_id,omitempty"`
	ChannelID   *uuid.UUID         `json:"channel_id,omitempty"`
	Type        domain.MessageType `json:"message_type"`
	Content     *string            `json:"content,omitempty"`
	FileURL     *string            `json:"file_url,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

type MessageRepo struct {
	db *badger.DB
}

func NewMessageRepo(db *badger.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores the message and its history index entries in one
// transaction. Channel messages are linked to their channel in the same
// transaction.
func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return update(ctx, r.db, func(txn *badger.Txn) error {
		if msg.ChannelID != nil {
			if err := appendMessage(txn, *msg.ChannelID, msg.ID, msg.Timestamp); err != nil {
				return err
			}
		}
		if msg.RecipientID != nil {
			key := directKey(msg.SenderID, *msg.RecipientID, msg.Timestamp, msg.ID)
			if err := txn.Set([]byte(key), msg.ID[:]); err != nil {
				return err
			}
		}
		return setJSON(txn, messageKey(msg.ID), messageRecord{
			ID:          msg.ID,
			SenderID:    msg.SenderID,
			RecipientID: msg.RecipientID,
			ChannelID:   msg.ChannelID,
			Type:        msg.Type,
			Content:     msg.Content,
			FileURL:     msg.FileURL,
			Timestamp:   msg.Timestamp,
		})
	})
}

func (r *MessageRepo) GetExpanded(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg *domain.Message
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		var err error
		msg, err = loadExpanded(txn, id)
		return err
	})
	return msg, err
}

// ListDirect returns the conversation between two users, oldest first.
func (r *MessageRepo) ListDirect(ctx context.Context, userID, otherUserID uuid.UUID) ([]domain.Message, error) {
	return r.listIndexed(ctx, directPrefix(userID, otherUserID))
}

func (r *MessageRepo) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error) {
	return r.listIndexed(ctx, channelMessagePrefix(channelID))
}

func (r *MessageRepo) listIndexed(ctx context.Context, prefix string) ([]domain.Message, error) {
	var messages []domain.Message
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			msg, err := loadExpanded(txn, id)
			if err != nil {
				return err
			}
			if msg != nil {
				messages = append(messages, *msg)
			}
		}
		return nil
	})
	return messages, err
}

func loadExpanded(txn *badger.Txn, id uuid.UUID) (*domain.Message, error) {
	var rec messageRecord
	found, err := getJSON(txn, messageKey(id), &rec)
	if err != nil || !found {
		return nil, err
	}

	msg := &domain.Message{
		ID:          rec.ID,
		SenderID:    rec.SenderID,
		RecipientID: rec.RecipientID,
		ChannelID:   rec.ChannelID,
		Type:        rec.Type,
		Content:     rec.Content,
		FileURL:     rec.FileURL,
		Timestamp:   rec.Timestamp,
	}
	if msg.Sender, err = summarize(txn, rec.SenderID); err != nil {
		return nil, err
	}
	if rec.RecipientID != nil {
		if msg.Recipient, err = summarize(txn, *rec.RecipientID); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
