// Package options persists the authentication policy record and migrates it
// forward between schema versions.
package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/repository"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 1

// Placeholder is substituted in the login and logout URI templates.
const Placeholder = "%s"

// DefaultAuthLabel names the external authentication source until an administrator changes it.
const DefaultAuthLabel = "HTTP authentication"

// Keys used by earlier releases. A legacy value stands in for its modern
// field only while the modern field is absent.
var legacyAliases = []struct{ legacy, modern string }{
	{"db_version", domain.KeySchemaVersion},
	{"allow_wp_auth", domain.KeyAllowFallbackAuth},
	{"login_uri", domain.KeyLoginURITemplate},
	{"logout_uri", domain.KeyLogoutURITemplate},
}

// NativeLoginPath is the password form served by this service.
const NativeLoginPath = "/login/password"

// Defaults builds the defaults table for a site rooted at siteURL.
func Defaults(siteURL string) domain.Options {
	return domain.Options{
		SchemaVersion:         0,
		AllowFallbackAuth:     false,
		AuthLabel:             DefaultAuthLabel,
		LoginURITemplate:      NativeLoginURI(siteURL) + "?redirect_to=" + Placeholder,
		LogoutURITemplate:     strings.TrimRight(siteURL, "/") + "/",
		AutoCreateUser:        false,
		AutoCreateEmailDomain: "",
	}
}

// NativeLoginURI is the absolute URI of the native password form.
func NativeLoginURI(siteURL string) string {
	return strings.TrimRight(siteURL, "/") + NativeLoginPath
}

// SettingsInput carries a settings submission. Nil fields were not submitted
// and keep their stored value.
type SettingsInput struct {
	AllowFallbackAuth     *bool   `json:"allow_fallback_auth"`
	AuthLabel             *string `json:"auth_label"`
	LoginURITemplate      *string `json:"login_uri_template"`
	LogoutURITemplate     *string `json:"logout_uri_template"`
	AutoCreateUser        *bool   `json:"auto_create_user"`
	AutoCreateEmailDomain *string `json:"auto_create_email_domain"`
}

// Store reads and writes the options record through an OptionsRepository.
type Store struct {
	repo     repository.OptionsRepository
	defaults domain.Options
	logger   *zap.Logger
}

// NewStore constructs a Store over repo.
func NewStore(repo repository.OptionsRepository, defaults domain.Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults.SchemaVersion = 0
	return &Store{repo: repo, defaults: defaults, logger: logger}
}

// Defaults returns the defaults table the store migrates toward.
func (s *Store) Defaults() domain.Options {
	return s.defaults
}

// Load returns the stored options and whether a record exists. Fields missing
// from an unmigrated record read as their defaults; nothing is written.
func (s *Store) Load(ctx context.Context) (domain.Options, bool, error) {
	raw, err := s.repo.Read(ctx)
	if err != nil {
		return domain.Options{}, false, &domain.PersistenceError{Op: "load", Err: err}
	}
	if raw == nil {
		return domain.Options{}, false, nil
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return domain.Options{}, false, &domain.PersistenceError{Op: "load", Err: err}
	}
	opts, err := s.resolve(rec)
	if err != nil {
		return domain.Options{}, false, &domain.PersistenceError{Op: "load", Err: err}
	}
	return opts, true, nil
}

// Current is Load with the defaults table standing in for an absent record.
func (s *Store) Current(ctx context.Context) (domain.Options, error) {
	opts, ok, err := s.Load(ctx)
	if err != nil {
		return domain.Options{}, err
	}
	if !ok {
		return s.defaults, nil
	}
	return opts, nil
}

// Save writes every field of opts over the stored record. Keys this build
// does not know are kept, and the stored schema version never goes down.
func (s *Store) Save(ctx context.Context, opts domain.Options) error {
	if err := validate(opts); err != nil {
		return err
	}
	err := s.repo.Update(ctx, func(current []byte) ([]byte, error) {
		rec, err := decodeRecord(current)
		if err != nil {
			return nil, err
		}
		stored, err := rec.version()
		if err != nil {
			return nil, err
		}
		next := opts
		next.SchemaVersion = max(stored, opts.SchemaVersion)
		if err := rec.merge(next); err != nil {
			return nil, err
		}
		return json.Marshal(rec)
	})
	if err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// MigrateIfNeeded brings the stored record up to CurrentVersion. Missing
// policy fields receive their defaults and present fields are never
// overwritten. It reports whether anything was written.
func (s *Store) MigrateIfNeeded(ctx context.Context) (bool, error) {
	var (
		migrated bool
		from     int
	)
	err := s.repo.Update(ctx, func(current []byte) ([]byte, error) {
		migrated = false
		rec, err := decodeRecord(current)
		if err != nil {
			return nil, err
		}
		from, err = rec.version()
		if err != nil {
			return nil, err
		}
		if from >= CurrentVersion {
			return nil, nil
		}

		rec.adoptLegacy()
		defaults, err := encodeOptions(s.defaults)
		if err != nil {
			return nil, err
		}
		for _, key := range domain.PolicyKeys {
			if _, ok := rec[key]; !ok {
				rec[key] = defaults[key]
			}
		}
		rec[domain.KeySchemaVersion] = json.RawMessage(strconv.Itoa(CurrentVersion))

		out, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		migrated = true
		return out, nil
	})
	if err != nil {
		return false, &domain.PersistenceError{Op: "migrate", Err: err}
	}
	if migrated {
		s.logger.Info("options migrated",
			zap.Int("from_version", from),
			zap.Int("to_version", CurrentVersion),
		)
	}
	return migrated, nil
}

// Submit applies a settings submission over the stored record, sanitizes it
// and stamps at least the current schema version.
func (s *Store) Submit(ctx context.Context, in SettingsInput) (domain.Options, error) {
	var saved domain.Options
	err := s.repo.Update(ctx, func(current []byte) ([]byte, error) {
		rec, err := decodeRecord(current)
		if err != nil {
			return nil, err
		}
		opts, err := s.resolve(rec)
		if err != nil {
			return nil, err
		}

		opts = sanitize(apply(opts, in))
		if err := validate(opts); err != nil {
			return nil, err
		}
		opts.SchemaVersion = max(opts.SchemaVersion, CurrentVersion)

		if err := rec.merge(opts); err != nil {
			return nil, err
		}
		out, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		saved = opts
		return out, nil
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return domain.Options{}, verr
		}
		return domain.Options{}, &domain.PersistenceError{Op: "submit", Err: err}
	}
	return saved, nil
}

// Warnings lists configuration problems worth showing an administrator.
func (s *Store) Warnings(opts domain.Options, nativeLoginURI string) []string {
	var warnings []string
	if !opts.AllowFallbackAuth && nativeLoginURI != "" && strings.HasPrefix(opts.LoginURITemplate, nativeLoginURI) {
		warnings = append(warnings,
			"The login URI points at the native password form, but password authentication is disabled. Users without an asserted identity cannot log in.")
	}
	if opts.AutoCreateUser && opts.AutoCreateEmailDomain == "" {
		warnings = append(warnings,
			"Automatically created accounts will have no email address until an email domain is set.")
	}
	return warnings
}

// resolve overlays a raw record on the defaults table.
func (s *Store) resolve(rec record) (domain.Options, error) {
	rec.adoptLegacy()
	opts := s.defaults
	version, err := rec.version()
	if err != nil {
		return domain.Options{}, err
	}
	for _, key := range domain.PolicyKeys {
		value, ok := rec[key]
		if !ok {
			continue
		}
		if err := decodeField(&opts, key, value); err != nil {
			return domain.Options{}, err
		}
	}
	opts.SchemaVersion = version
	return opts, nil
}

func apply(opts domain.Options, in SettingsInput) domain.Options {
	if in.AllowFallbackAuth != nil {
		opts.AllowFallbackAuth = *in.AllowFallbackAuth
	}
	if in.AuthLabel != nil {
		opts.AuthLabel = *in.AuthLabel
	}
	if in.LoginURITemplate != nil {
		opts.LoginURITemplate = *in.LoginURITemplate
	}
	if in.LogoutURITemplate != nil {
		opts.LogoutURITemplate = *in.LogoutURITemplate
	}
	if in.AutoCreateUser != nil {
		opts.AutoCreateUser = *in.AutoCreateUser
	}
	if in.AutoCreateEmailDomain != nil {
		opts.AutoCreateEmailDomain = *in.AutoCreateEmailDomain
	}
	return opts
}

func sanitize(opts domain.Options) domain.Options {
	opts.AuthLabel = strings.TrimSpace(opts.AuthLabel)
	opts.LoginURITemplate = strings.TrimSpace(opts.LoginURITemplate)
	opts.LogoutURITemplate = strings.TrimSpace(opts.LogoutURITemplate)
	opts.AutoCreateEmailDomain = strings.TrimPrefix(strings.TrimSpace(opts.AutoCreateEmailDomain), "@")
	return opts
}

func validate(opts domain.Options) error {
	if n := strings.Count(opts.LoginURITemplate, Placeholder); n > 1 {
		return &domain.ValidationError{Field: domain.KeyLoginURITemplate, Message: fmt.Sprintf("contains %d placeholders, at most one allowed", n)}
	}
	if n := strings.Count(opts.LogoutURITemplate, Placeholder); n > 1 {
		return &domain.ValidationError{Field: domain.KeyLogoutURITemplate, Message: fmt.Sprintf("contains %d placeholders, at most one allowed", n)}
	}
	return nil
}
