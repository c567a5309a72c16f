package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/config"
	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/password"
	"github.com/smallbiznis/httpauth/internal/repository"
)

// EnsureAdmin creates the ADMIN_LOGIN administrator account on start if it is missing.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, accounts repository.AccountRepository, node *snowflake.Node, logger *zap.Logger) {
	if cfg.AdminLogin == "" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg.AdminLogin, accounts, node, logger)
		},
	})
}

// The administrator signs in through the proxy like everyone else, so the
// stored password is a random placeholder.
func ensureAdmin(ctx context.Context, login string, accounts repository.AccountRepository, node *snowflake.Node, logger *zap.Logger) error {
	existing, err := accounts.FindByLogin(ctx, login)
	if err == nil {
		if !existing.IsAdministrator() && logger != nil {
			logger.Warn("bootstrap admin account exists without administrator role",
				zap.String("login", login),
				zap.String("role", existing.Role),
			)
		}
		return nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return fmt.Errorf("bootstrap lookup account: %w", err)
	}

	secret, err := password.Generate()
	if err != nil {
		return fmt.Errorf("bootstrap generate password: %w", err)
	}
	hashed, err := password.Hash(secret)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := accounts.Create(ctx, domain.Account{
		ID:           node.Generate().Int64(),
		Login:        login,
		PasswordHash: hashed,
		DisplayName:  "Administrator",
		Role:         domain.RoleAdministrator,
		Status:       domain.StatusActive,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create account: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin account created",
			zap.String("login", created.Login),
			zap.Int64("account_id", created.ID),
		)
	}
	return nil
}
