package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/config"
	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/identity"
	"github.com/smallbiznis/httpauth/internal/options"
	"github.com/smallbiznis/httpauth/internal/password"
	"github.com/smallbiznis/httpauth/internal/policy"
	"github.com/smallbiznis/httpauth/internal/service"
	"github.com/smallbiznis/httpauth/internal/session"
)

const testSiteURL = "https://site.example"

type testEnv struct {
	auth     *service.AuthService
	settings *service.SettingsService
	accounts *memoryAccountRepo
	opts     *memoryOptionsRepo
	sessions *session.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{SiteURL: testSiteURL, DefaultRole: "subscriber"}
	logger := zap.NewNop()

	accounts := newMemoryAccountRepo()
	optsRepo := &memoryOptionsRepo{}
	store := options.NewStore(optsRepo, options.Defaults(cfg.SiteURL), logger)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	engine := policy.NewEngine(accounts, node, cfg.DefaultRole, logger)

	sessions, err := session.NewManager([]byte(strings.Repeat("k", 32)), cfg.SiteURL, time.Hour)
	require.NoError(t, err)

	return &testEnv{
		auth:     service.NewAuthService(engine, store, accounts, sessions, cfg, logger),
		settings: service.NewSettingsService(store, cfg, logger),
		accounts: accounts,
		opts:     optsRepo,
		sessions: sessions,
	}
}

func (e *testEnv) setOptions(t *testing.T, record string) {
	t.Helper()
	e.opts.record = []byte(record)
}

func TestLoginAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.add(domain.Account{ID: 5, Login: "alice", Role: "editor"})

	result, err := env.auth.Login(context.Background(), identity.Static{identity.FieldRemoteUser: "alice"}, "/dashboard")
	require.NoError(t, err)
	require.Equal(t, policy.KindAccepted, result.Decision.Kind)
	require.Equal(t, "/dashboard", result.Redirect)
	require.Equal(t, "alice", result.Account.Login)

	claims, err := env.sessions.Validate(result.Token)
	require.NoError(t, err)
	require.Equal(t, int64(5), claims.AccountID)
	require.Equal(t, session.MethodHeader, claims.Method)
}

func TestLoginKeepsRedirectOnSite(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.add(domain.Account{ID: 5, Login: "alice"})
	rc := identity.Static{identity.FieldRemoteUser: "alice"}

	cases := []struct{ in, want string }{
		{"", "/"},
		{"https://evil.example/steal", "/"},
		{"//evil.example/steal", "/"},
		{"javascript:alert(document.domain)", "/"},
		{"https://site.example/wp-admin", "https://site.example/wp-admin"},
		{"/profile?tab=password", "/profile?tab=password"},
	}
	for _, tc := range cases {
		result, err := env.auth.Login(context.Background(), rc, tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, result.Redirect, tc.in)
	}
}

func TestLoginRejectedWithoutFallback(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.auth.Login(context.Background(), identity.Static{}, "/")
	require.NoError(t, err)
	require.Equal(t, policy.KindRejected, result.Decision.Kind)
	require.Equal(t, policy.ReasonEmptyIdentity, result.Decision.Reason)
	require.Empty(t, result.Token)
	require.Empty(t, result.Redirect)
}

func TestLoginFallsThroughWithFallback(t *testing.T) {
	env := newTestEnv(t)
	env.setOptions(t, `{"schema_version":1,"allow_fallback_auth":true}`)

	result, err := env.auth.Login(context.Background(), identity.Static{identity.FieldRemoteUser: "nobody"}, "/wp-admin")
	require.NoError(t, err)
	require.Equal(t, policy.KindFallThrough, result.Decision.Kind)
	require.Equal(t, policy.ReasonUnknownIdentity, result.Decision.Reason)
	require.Equal(t, "/login/password?redirect_to=%2Fwp-admin", result.Redirect)
	require.Empty(t, result.Token)
}

func TestLoginAutoCreates(t *testing.T) {
	env := newTestEnv(t)
	env.setOptions(t, `{"schema_version":1,"auto_create_user":true,"auto_create_email_domain":"example.edu"}`)

	result, err := env.auth.Login(context.Background(), identity.Static{identity.FieldRedirectRemoteUser: "u"}, "/")
	require.NoError(t, err)
	require.Equal(t, policy.KindAccepted, result.Decision.Kind)
	require.True(t, result.Decision.Created)
	require.Equal(t, "u@example.edu", result.Account.Email)
	require.Equal(t, "subscriber", result.Account.Role)
}

func TestLoginFatalErrors(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.findErr = errors.New("connection refused")

	_, err := env.auth.Login(context.Background(), identity.Static{identity.FieldRemoteUser: "alice"}, "/")
	var derr *domain.DirectoryError
	require.ErrorAs(t, err, &derr)

	env = newTestEnv(t)
	env.opts.readErr = errors.New("connection refused")
	_, err = env.auth.Login(context.Background(), identity.Static{identity.FieldRemoteUser: "alice"}, "/")
	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
}

func TestPasswordLogin(t *testing.T) {
	env := newTestEnv(t)
	hash, err := password.Hash("correct horse")
	require.NoError(t, err)
	env.accounts.add(domain.Account{ID: 9, Login: "bob", PasswordHash: hash})
	ctx := context.Background()

	_, _, err = env.auth.PasswordLogin(ctx, "bob", "correct horse")
	require.ErrorIs(t, err, domain.ErrFallbackDisabled)

	env.setOptions(t, `{"schema_version":1,"allow_fallback_auth":true}`)

	_, _, err = env.auth.PasswordLogin(ctx, "bob", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, _, err = env.auth.PasswordLogin(ctx, "carol", "correct horse")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	view, token, err := env.auth.PasswordLogin(ctx, " bob ", "correct horse")
	require.NoError(t, err)
	require.Equal(t, int64(9), view.ID)
	claims, err := env.sessions.Validate(token)
	require.NoError(t, err)
	require.Equal(t, session.MethodPassword, claims.Method)
}

func TestLoginOptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.auth.LoginOptions(ctx, "/wp-admin")
	require.NoError(t, err)
	require.Equal(t, "HTTP authentication", view.AuthLabel)
	require.Equal(t, "https://site.example/login/password?redirect_to=https%3A%2F%2Fsite.example%2Fwp-admin", view.LoginURI)
	require.False(t, view.ShowPasswordFields)
	require.False(t, view.AllowPasswordReset)
	require.Nil(t, view.LoginLink)

	env.setOptions(t, `{"schema_version":1,"allow_fallback_auth":true,"auth_label":"Campus SSO","login_uri_template":"https://sso/login?return=%s"}`)
	view, err = env.auth.LoginOptions(ctx, "")
	require.NoError(t, err)
	require.True(t, view.ShowPasswordFields)
	require.True(t, view.AllowPasswordReset)
	require.NotNil(t, view.LoginLink)
	require.Equal(t, "Log In with Campus SSO", view.LoginLink.Label)
	require.Equal(t, "https://sso/login?return=https%3A%2F%2Fsite.example%2F", view.LoginLink.URI)
}

func TestLogoutURI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	uri, err := env.auth.LogoutURI(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://site.example/", uri)

	env.setOptions(t, `{"schema_version":1,"logout_uri_template":"https://sso/logout?home=%s"}`)
	uri, err = env.auth.LogoutURI(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://sso/logout?home=https%3A%2F%2Fsite.example%2F", uri)
}

func TestChangePasswordStoresPlaceholderWithoutFallback(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.add(domain.Account{ID: 3, Login: "dave", PasswordHash: "old"})

	require.NoError(t, env.auth.ChangePassword(context.Background(), 3, "chosen", "chosen"))

	stored := env.accounts.byID[3].PasswordHash
	require.NotEqual(t, "old", stored)
	ok, err := password.Verify("chosen", stored)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChangePasswordKeepsChoiceWithFallback(t *testing.T) {
	env := newTestEnv(t)
	env.setOptions(t, `{"schema_version":1,"allow_fallback_auth":true}`)
	env.accounts.add(domain.Account{ID: 3, Login: "dave", PasswordHash: "old"})
	ctx := context.Background()

	var verr *domain.ValidationError
	require.ErrorAs(t, env.auth.ChangePassword(ctx, 3, "", ""), &verr)
	require.ErrorAs(t, env.auth.ChangePassword(ctx, 3, "one", "two"), &verr)
	require.Equal(t, "old", env.accounts.byID[3].PasswordHash)

	require.NoError(t, env.auth.ChangePassword(ctx, 3, "chosen", "chosen"))
	ok, err := password.Verify("chosen", env.accounts.byID[3].PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.ErrorIs(t, env.auth.PasswordReset(ctx, "alice"), domain.ErrPasswordResetDisabled)

	env.setOptions(t, `{"schema_version":1,"allow_fallback_auth":true}`)
	require.NoError(t, env.auth.PasswordReset(ctx, "alice"))
}

func TestAccount(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.add(domain.Account{ID: 8, Login: "erin", Email: "erin@example.edu"})

	view, err := env.auth.Account(context.Background(), 8)
	require.NoError(t, err)
	require.Equal(t, "erin@example.edu", view.Email)

	_, err = env.auth.Account(context.Background(), 404)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestSettingsGetAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.settings.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, view.Options.SchemaVersion)
	require.Len(t, view.Warnings, 1)

	fallback := true
	view, err = env.settings.Update(ctx, "admin", options.SettingsInput{AllowFallbackAuth: &fallback})
	require.NoError(t, err)
	require.Equal(t, options.CurrentVersion, view.Options.SchemaVersion)
	require.True(t, view.Options.AllowFallbackAuth)
	require.Empty(t, view.Warnings)

	bad := "https://sso/%s/%s"
	_, err = env.settings.Update(ctx, "admin", options.SettingsInput{LoginURITemplate: &bad})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

type memoryAccountRepo struct {
	mu      sync.Mutex
	byLogin map[string]int64
	byID    map[int64]domain.Account
	findErr error
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{byLogin: map[string]int64{}, byID: map[int64]domain.Account{}}
}

func (m *memoryAccountRepo) add(a domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byLogin[a.Login] = a.ID
	m.byID[a.ID] = a
}

func (m *memoryAccountRepo) FindByLogin(ctx context.Context, login string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return domain.Account{}, m.findErr
	}
	id, ok := m.byLogin[login]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return m.byID[id], nil
}

func (m *memoryAccountRepo) GetByID(ctx context.Context, id int64) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return a, nil
}

func (m *memoryAccountRepo) Create(ctx context.Context, a domain.Account) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byLogin[a.Login]; ok {
		return domain.Account{}, domain.ErrDuplicateLogin
	}
	m.byLogin[a.Login] = a.ID
	m.byID[a.ID] = a
	return a, nil
}

func (m *memoryAccountRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.PasswordHash = hash
	m.byID[id] = a
	return nil
}

type memoryOptionsRepo struct {
	mu      sync.Mutex
	record  []byte
	readErr error
}

func (m *memoryOptionsRepo) Read(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.record, nil
}

func (m *memoryOptionsRepo) Write(ctx context.Context, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = record
	return nil
}

func (m *memoryOptionsRepo) Update(ctx context.Context, fn func([]byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return m.readErr
	}
	next, err := fn(m.record)
	if err != nil || next == nil {
		return err
	}
	m.record = next
	return nil
}
