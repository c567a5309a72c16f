package repository

import (
	"context"

	"github.com/smallbiznis/httpauth/internal/domain"
)

// AccountRepository is the account directory.
type AccountRepository interface {
	FindByLogin(ctx context.Context, login string) (domain.Account, error)
	GetByID(ctx context.Context, id int64) (domain.Account, error)
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// OptionsRepository persists the raw options record. Read returns nil when no
// record exists. Update runs fn against the current record and writes its
// result in one atomic step; when fn returns nil bytes nothing is written.
type OptionsRepository interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, record []byte) error
	Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error
}
