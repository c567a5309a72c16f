package service

import (
	"github.com/smallbiznis/httpauth/internal/domain"
	"github.com/smallbiznis/httpauth/internal/policy"
)

// AccountView is the account data returned to clients.
type AccountView struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
}

func newAccountView(a domain.Account) AccountView {
	return AccountView{
		ID:          a.ID,
		Login:       a.Login,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
	}
}

// LoginResult is the outcome of a header login. Token and Redirect are set
// according to the decision kind.
type LoginResult struct {
	Decision policy.Decision
	Account  AccountView
	Token    string
	Redirect string
}

// LoginOptionsView describes what a login page should offer.
type LoginOptionsView struct {
	AuthLabel          string            `json:"auth_label"`
	LoginURI           string            `json:"login_uri"`
	ShowPasswordFields bool              `json:"show_password_fields"`
	AllowPasswordReset bool              `json:"allow_password_reset"`
	LoginLink          *policy.LoginLink `json:"login_link,omitempty"`
}

// PasswordFormView describes the native password form. Fields are only
// rendered when ShowPasswordFields is set.
type PasswordFormView struct {
	LoginOptionsView
	Action     string `json:"action"`
	RedirectTo string `json:"redirect_to"`
}

// SettingsView is the admin view of the options record.
type SettingsView struct {
	Options  domain.Options `json:"options"`
	Warnings []string       `json:"warnings"`
}
