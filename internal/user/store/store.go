package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tumi/internal/platform/postgres"
	"tumi/internal/user/models"
	id "tumi/pkg/domain"
	"tumi/pkg/platform/sentinel"
	txcontext "tumi/pkg/platform/tx"
)

type InMemory struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[id.UserID]*models.User)}
}

func (s *InMemory) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return sentinel.ErrAlreadyUsed
		}
	}
	c := *u
	s.users[u.ID] = &c
	return nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *u
	return &c, nil
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, u *models.User) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`INSERT INTO users (id, email, first_name, last_name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(u.ID), strings.ToLower(u.Email), u.FirstName, u.LastName, u.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	var (
		u     models.User
		rawID uuid.UUID
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, created_at FROM users WHERE id = $1`, uuid.UUID(userID),
	).Scan(&rawID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.ID = id.UserID(rawID)
	return &u, nil
}
