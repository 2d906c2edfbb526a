package badgerdb

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/relay/internal/domain"
)

type userRecord struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Image     *string   `json:"image,omitempty"`
	Color     *int      `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type UserRepo struct {
	db *badger.DB
}

func NewUserRepo(db *badger.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Upsert(ctx context.Context, u *domain.User) error {
	return update(ctx, r.db, func(txn *badger.Txn) error {
		return setJSON(txn, userKey(u.ID), userRecord{
			ID:        u.ID,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Image:     u.Image,
			Color:     u.Color,
			CreatedAt: u.CreatedAt,
		})
	})
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u *domain.User
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		var err error
		u, err = loadUser(txn, id)
		return err
	})
	return u, err
}

func (r *UserRepo) AllExist(ctx context.Context, ids []uuid.UUID) (bool, error) {
	all := true
	err := view(ctx, r.db, func(txn *badger.Txn) error {
		for _, id := range lo.Uniq(ids) {
			_, err := txn.Get([]byte(userKey(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				all = false
				return nil
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return all, err
}

func loadUser(txn *badger.Txn, id uuid.UUID) (*domain.User, error) {
	var rec userRecord
	found, err := getJSON(txn, userKey(id), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &domain.User{
		ID:        rec.ID,
		Email:     rec.Email,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Image:     rec.Image,
		Color:     rec.Color,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// summarize resolves a user id to its public profile; unknown users keep
// just their id.
func summarize(txn *badger.Txn, id uuid.UUID) (*domain.UserSummary, error) {
	u, err := loadUser(txn, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return &domain.UserSummary{ID: id}, nil
	}
	return u.Summary(), nil
}
