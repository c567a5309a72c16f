package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/audit"
	"github.com/smallbiznis/httpauth/internal/config"
	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/identity"
	"github.com/smallbiznis/httpauth/internal/options"
	pw "github.com/smallbiznis/httpauth/internal/password"
	"github.com/smallbiznis/httpauth/internal/policy"
	"github.com/smallbiznis/httpauth/internal/repository"
	"github.com/smallbiznis/httpauth/internal/session"
)

// AuthService runs the login, logout and password flows on top of the policy engine.
type AuthService struct {
	engine   *policy.Engine
	store    *options.Store
	accounts repository.AccountRepository
	sessions *session.Manager
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(engine *policy.Engine, store *options.Store, accounts repository.AccountRepository, sessions *session.Manager, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		engine:   engine,
		store:    store,
		accounts: accounts,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/smallbiznis/httpauth/internal/service"),
	}
}

// SetTracer replaces the tracer spans are started on.
func (s *AuthService) SetTracer(tracer trace.Tracer) {
	if tracer != nil {
		s.tracer = tracer
	}
}

// Login authenticates the asserted identity in rc and escalates a rejection
// when password authentication is allowed. Rejections are reported in the
// result; only fatal failures are errors.
func (s *AuthService) Login(ctx context.Context, rc identity.RequestContext, redirectTo string) (LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	opts, err := s.store.Current(ctx)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, err
	}

	decision, err := s.engine.Authenticate(ctx, rc, opts)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, err
	}
	decision = s.engine.Escalate(decision, opts)
	span.SetAttributes(attribute.String("auth.decision", decision.Kind.String()))

	target := s.safeRedirect(redirectTo)
	result := LoginResult{Decision: decision}
	switch decision.Kind {
	case policy.KindAccepted:
		token, err := s.sessions.Issue(decision.Account, session.MethodHeader)
		if err != nil {
			span.RecordError(err)
			return LoginResult{}, fmt.Errorf("issue session: %w", err)
		}
		result.Account = newAccountView(decision.Account)
		result.Token = token
		result.Redirect = target
		s.audit("header.login.success", "account_id", decision.Account.ID, "login", decision.Account.Login, "created", decision.Created)
	case policy.KindFallThrough:
		result.Redirect = s.nativeLoginURI(target)
		s.audit("header.login.fallthrough", "reason", string(decision.Reason))
	default:
		s.audit("header.login.rejected", "reason", string(decision.Reason))
	}
	return result, nil
}

// PasswordLogin is the native fallback login. It is refused unless password
// authentication is allowed.
func (s *AuthService) PasswordLogin(ctx context.Context, login, password string) (AccountView, string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.PasswordLogin")
	defer span.End()

	opts, err := s.store.Current(ctx)
	if err != nil {
		span.RecordError(err)
		return AccountView{}, "", err
	}
	if !opts.AllowFallbackAuth {
		return AccountView{}, "", domain.ErrFallbackDisabled
	}

	account, err := s.accounts.FindByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return AccountView{}, "", domain.ErrInvalidCredentials
		}
		span.RecordError(err)
		return AccountView{}, "", &domain.DirectoryError{Op: "lookup", Err: err}
	}

	valid, err := pw.Verify(password, account.PasswordHash)
	if err != nil || !valid {
		span.RecordError(fmt.Errorf("invalid password"))
		s.audit("password.login.failure", "account_id", account.ID)
		return AccountView{}, "", domain.ErrInvalidCredentials
	}

	token, err := s.sessions.Issue(account, session.MethodPassword)
	if err != nil {
		span.RecordError(err)
		return AccountView{}, "", fmt.Errorf("issue session: %w", err)
	}
	s.audit("password.login.success", "account_id", account.ID)
	return newAccountView(account), token, nil
}

// LoginOptions describes the login page for returnTo.
func (s *AuthService) LoginOptions(ctx context.Context, returnTo string) (LoginOptionsView, error) {
	opts, err := s.store.Current(ctx)
	if err != nil {
		return LoginOptionsView{}, err
	}
	target := s.absolute(s.safeRedirect(returnTo))
	view := LoginOptionsView{
		AuthLabel:          opts.AuthLabel,
		LoginURI:           s.engine.BuildLoginURI(opts, target),
		ShowPasswordFields: s.engine.ShouldShowPasswordFields(opts),
		AllowPasswordReset: s.engine.ShouldAllowPasswordReset(opts),
	}
	if link, ok := s.engine.LoginLink(opts, target); ok {
		view.LoginLink = &link
	}
	return view, nil
}

// PasswordForm describes the native password form a fall-through login is
// sent to.
func (s *AuthService) PasswordForm(ctx context.Context, returnTo string) (PasswordFormView, error) {
	view, err := s.LoginOptions(ctx, returnTo)
	if err != nil {
		return PasswordFormView{}, err
	}
	return PasswordFormView{
		LoginOptionsView: view,
		Action:           options.NativeLoginPath,
		RedirectTo:       s.safeRedirect(returnTo),
	}, nil
}

// LogoutURI is where a logged-out browser is sent.
func (s *AuthService) LogoutURI(ctx context.Context) (string, error) {
	opts, err := s.store.Current(ctx)
	if err != nil {
		return "", err
	}
	return s.engine.BuildLogoutURI(opts, s.cfg.SiteURL+"/"), nil
}

// ChangePassword stores a new password for accountID. When password
// authentication is disabled the submitted values are ignored and a
// placeholder is stored instead.
func (s *AuthService) ChangePassword(ctx context.Context, accountID int64, pass1, pass2 string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ChangePassword")
	defer span.End()

	opts, err := s.store.Current(ctx)
	if err != nil {
		return err
	}

	secret, generated, err := s.engine.GeneratePlaceholderPassword(opts)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !generated {
		if pass1 == "" || pass2 == "" {
			return &domain.ValidationError{Field: "pass1", Message: "please enter your password twice"}
		}
		if pass1 != pass2 {
			return &domain.ValidationError{Field: "pass2", Message: "passwords do not match"}
		}
		secret = pass1
	}

	hash, err := pw.Hash(secret)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		span.RecordError(err)
		return &domain.DirectoryError{Op: "update password", Err: err}
	}
	s.audit("password.changed", "account_id", accountID, "placeholder", generated)
	return nil
}

// PasswordReset accepts a reset request when self-service reset is allowed.
func (s *AuthService) PasswordReset(ctx context.Context, login string) error {
	opts, err := s.store.Current(ctx)
	if err != nil {
		return err
	}
	if !s.engine.ShouldAllowPasswordReset(opts) {
		return domain.ErrPasswordResetDisabled
	}
	s.audit("password.reset.requested", "login", strings.TrimSpace(login))
	return nil
}

// Account returns the account behind a session.
func (s *AuthService) Account(ctx context.Context, accountID int64) (AccountView, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return AccountView{}, err
		}
		return AccountView{}, &domain.DirectoryError{Op: "get", Err: err}
	}
	return newAccountView(account), nil
}

// SessionTTL is the lifetime of issued session cookies.
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

func (s *AuthService) nativeLoginURI(redirectTo string) string {
	return options.NativeLoginPath + "?redirect_to=" + url.QueryEscape(redirectTo)
}

// safeRedirect keeps redirects on this site. Anything else becomes "/".
func (s *AuthService) safeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return "/"
	}
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "/"
	}
	site, err := url.Parse(s.cfg.SiteURL)
	if err != nil || site.Host == "" {
		return "/"
	}
	if strings.EqualFold(u.Scheme, site.Scheme) && strings.EqualFold(u.Host, site.Host) {
		return target
	}
	return "/"
}

func (s *AuthService) absolute(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.cfg.SiteURL + path
	}
	return path
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	audit.Log(s.log(), event, attrs...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
