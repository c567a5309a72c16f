// Package policy decides whether an externally asserted identity is let in.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/audit"
	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/identity"
	"github.com/smallbiznis/httpauth/internal/password"
)

const placeholder = "%s"

// Directory is the subset of the account directory the engine needs.
type Directory interface {
	FindByLogin(ctx context.Context, login string) (domain.Account, error)
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
}

// Engine holds collaborators only. Every call reads the options it is given.
type Engine struct {
	directory   Directory
	ids         *snowflake.Node
	defaultRole string
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewEngine(directory Directory, ids *snowflake.Node, defaultRole string, logger *zap.Logger) *Engine {
	if defaultRole == "" {
		defaultRole = "subscriber"
	}
	return &Engine{
		directory:   directory,
		ids:         ids,
		defaultRole: defaultRole,
		logger:      logger,
		tracer:      otel.Tracer("github.com/smallbiznis/httpauth/internal/policy"),
	}
}

// SetTracer replaces the tracer spans are started on.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	if tracer != nil {
		e.tracer = tracer
	}
}

// Authenticate resolves the asserted identity in rc to an account. Rejections
// are returned as decisions; only directory failures are errors.
func (e *Engine) Authenticate(ctx context.Context, rc identity.RequestContext, opts domain.Options) (Decision, error) {
	ctx, span := e.startSpan(ctx, "Engine.Authenticate")
	defer span.End()

	login := identity.Extract(rc)
	if login == "" {
		span.SetAttributes(attribute.String("auth.decision", string(ReasonEmptyIdentity)))
		return Rejected(ReasonEmptyIdentity), nil
	}
	span.SetAttributes(attribute.String("auth.identity", login))

	account, err := e.directory.FindByLogin(ctx, login)
	switch {
	case err == nil:
		return Accepted(account, false), nil
	case !errors.Is(err, domain.ErrAccountNotFound):
		span.RecordError(err)
		return Decision{}, &domain.DirectoryError{Op: "lookup", Err: err}
	}

	if !opts.AutoCreateUser {
		span.SetAttributes(attribute.String("auth.decision", string(ReasonUnknownIdentity)))
		return Rejected(ReasonUnknownIdentity), nil
	}

	created, err := e.provision(ctx, login, opts)
	if err != nil {
		span.RecordError(err)
		return Decision{}, &domain.DirectoryError{Op: "create", Err: err}
	}
	e.audit("account.provisioned", "account_id", created.ID, "login", created.Login)
	return Accepted(created, true), nil
}

func (e *Engine) provision(ctx context.Context, login string, opts domain.Options) (domain.Account, error) {
	secret, err := password.Generate()
	if err != nil {
		return domain.Account{}, err
	}
	hash, err := password.Hash(secret)
	if err != nil {
		return domain.Account{}, err
	}

	email := ""
	if opts.AutoCreateEmailDomain != "" {
		email = login + "@" + opts.AutoCreateEmailDomain
	}

	return e.directory.Create(ctx, domain.Account{
		ID:           e.nextID(),
		Login:        login,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  login,
		Role:         e.defaultRole,
		Status:       domain.StatusActive,
	})
}

// Escalate turns a rejection into a fall-through when password
// authentication is allowed. Other decisions pass unchanged.
func (e *Engine) Escalate(d Decision, opts domain.Options) Decision {
	if d.Kind == KindRejected && opts.AllowFallbackAuth {
		return FallThrough(d.Reason)
	}
	return d
}

// BuildLoginURI substitutes returnTo into the login template.
func (e *Engine) BuildLoginURI(opts domain.Options, returnTo string) string {
	return substitute(opts.LoginURITemplate, returnTo)
}

// BuildLogoutURI substitutes home into the logout template.
func (e *Engine) BuildLogoutURI(opts domain.Options, home string) string {
	return substitute(opts.LogoutURITemplate, home)
}

func (e *Engine) ShouldShowPasswordFields(opts domain.Options) bool {
	return opts.AllowFallbackAuth
}

func (e *Engine) ShouldAllowPasswordReset(opts domain.Options) bool {
	return opts.AllowFallbackAuth
}

// GeneratePlaceholderPassword returns a fresh random password to store in
// place of whatever the user chose. The bool is false when password
// authentication is allowed and the chosen password must be kept.
func (e *Engine) GeneratePlaceholderPassword(opts domain.Options) (string, bool, error) {
	if opts.AllowFallbackAuth {
		return "", false, nil
	}
	secret, err := password.Generate()
	if err != nil {
		return "", false, fmt.Errorf("generate placeholder password: %w", err)
	}
	return secret, true, nil
}

// LoginLink is the external login entry offered next to the password form.
type LoginLink struct {
	Label string `json:"label"`
	URI   string `json:"uri"`
}

// LoginLink returns the external login link, or false when the password form
// is not reachable and the link would never be shown.
func (e *Engine) LoginLink(opts domain.Options, returnTo string) (LoginLink, bool) {
	if !opts.AllowFallbackAuth {
		return LoginLink{}, false
	}
	return LoginLink{
		Label: "Log In with " + opts.AuthLabel,
		URI:   e.BuildLoginURI(opts, returnTo),
	}, true
}

func substitute(template, value string) string {
	return strings.Replace(template, placeholder, url.QueryEscape(value), 1)
}

func (e *Engine) nextID() int64 {
	if e.ids == nil {
		return time.Now().UnixNano()
	}
	return e.ids.Generate().Int64()
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if e == nil || e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.Start(ctx, name)
}

func (e *Engine) audit(event string, attrs ...any) {
	audit.Log(e.logger, event, attrs...)
}
