package domain

// Options is the per-site authentication policy record.
type Options struct {
	SchemaVersion         int    `json:"schema_version"`
	AllowFallbackAuth     bool   `json:"allow_fallback_auth"`
	AuthLabel             string `json:"auth_label"`
	LoginURITemplate      string `json:"login_uri_template"`
	LogoutURITemplate     string `json:"logout_uri_template"`
	AutoCreateUser        bool   `json:"auto_create_user"`
	AutoCreateEmailDomain string `json:"auto_create_email_domain"`
}

// Record keys of the persisted options document.
const (
	KeySchemaVersion         = "schema_version"
	KeyAllowFallbackAuth     = "allow_fallback_auth"
	KeyAuthLabel             = "auth_label"
	KeyLoginURITemplate      = "login_uri_template"
	KeyLogoutURITemplate     = "logout_uri_template"
	KeyAutoCreateUser        = "auto_create_user"
	KeyAutoCreateEmailDomain = "auto_create_email_domain"
)

// PolicyKeys lists the six policy fields every migrated record carries.
var PolicyKeys = []string{
	KeyAllowFallbackAuth,
	KeyAuthLabel,
	KeyLoginURITemplate,
	KeyLogoutURITemplate,
	KeyAutoCreateUser,
	KeyAutoCreateEmailDomain,
}
