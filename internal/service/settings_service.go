package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/config"
	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/options"
)

// SettingsService backs the administrator options endpoints.
type SettingsService struct {
	store  *options.Store
	cfg    config.Config
	logger *zap.Logger
}

func NewSettingsService(store *options.Store, cfg config.Config, logger *zap.Logger) *SettingsService {
	if logger == nil {
		logger = zap.L()
	}
	return &SettingsService{store: store, cfg: cfg, logger: logger}
}

// Get returns the effective options and any configuration warnings.
func (s *SettingsService) Get(ctx context.Context) (SettingsView, error) {
	opts, err := s.store.Current(ctx)
	if err != nil {
		return SettingsView{}, err
	}
	return s.view(opts), nil
}

// Update applies a settings submission made by actor.
func (s *SettingsService) Update(ctx context.Context, actor string, in options.SettingsInput) (SettingsView, error) {
	opts, err := s.store.Submit(ctx, in)
	if err != nil {
		return SettingsView{}, err
	}
	s.logger.Info("audit",
		zap.String("event", "options.updated"),
		zap.String("actor", actor),
		zap.Bool("allow_fallback_auth", opts.AllowFallbackAuth),
		zap.Bool("auto_create_user", opts.AutoCreateUser),
	)
	return s.view(opts), nil
}

func (s *SettingsService) view(opts domain.Options) SettingsView {
	warnings := s.store.Warnings(opts, options.NativeLoginURI(s.cfg.SiteURL))
	if warnings == nil {
		warnings = []string{}
	}
	return SettingsView{Options: opts, Warnings: warnings}
}
