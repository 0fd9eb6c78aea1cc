package auth

import "time"

// ProviderConfig contains webhook and auth configuration for Asana.
type ProviderConfig struct {
	WebhookPath string `yaml:"webhook_path"`

	// Token is a long-lived personal access token used when an event has no
	// account credentials.
	Token string `yaml:"personal_access_token"`

	BaseURL  string `yaml:"api_base_url"`
	AuthURL  string `yaml:"auth_url"`
	TokenURL string `yaml:"token_url"`

	OAuthClientID     string   `yaml:"client_id"`
	OAuthClientSecret string   `yaml:"client_secret"`
	OAuthScopes       []string `yaml:"scopes"`
	RedirectBase      string   `yaml:"redirect_base"`

	RequestTimeoutMS int64 `yaml:"request_timeout_ms"`
}

// RequestTimeout bounds every outbound call to the provider.
func (c ProviderConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
