// Package types provides the core data types shared by the DHIS2 dialect.
package types

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode selects how requests to DHIS2 are authenticated.
type AuthMode string

const (
	// AuthBasic uses HTTP Basic authentication with username and password.
	AuthBasic AuthMode = "basic"

	// AuthToken uses a Personal Access Token.
	AuthToken AuthMode = "pat"
)

// DefaultTimeout bounds every outbound DHIS2 request when a connection sets none.
const DefaultTimeout = 60 * time.Second

// Connection holds the credentials and base URL for one DHIS2 server.
type Connection struct {
	// BaseURL is the server URL, with or without the trailing /api
	BaseURL string `json:"base_url" yaml:"base_url"`

	// AuthMode is basic or pat
	AuthMode AuthMode `json:"auth_mode" yaml:"auth_mode"`

	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	Token    string `json:"-" yaml:"token"`

	// Timeout bounds each HTTP request
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Validate checks that the connection has a base URL and credentials
// matching its auth mode.
func (c Connection) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	switch c.mode() {
	case AuthBasic:
		if c.Username == "" {
			return fmt.Errorf("%w: username", ErrMissingCredentials)
		}
	case AuthToken:
		if c.Token == "" {
			return fmt.Errorf("%w: token", ErrMissingCredentials)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAuthMode, c.AuthMode)
	}
	return nil
}

// Mode returns the effective auth mode. An unset mode with a token is pat,
// otherwise basic.
func (c Connection) Mode() AuthMode {
	return c.mode()
}

func (c Connection) mode() AuthMode {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.Token != "" {
		return AuthToken
	}
	return AuthBasic
}

// APIBase returns the base URL normalised to end in /api, without a trailing slash.
func (c Connection) APIBase() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if strings.HasSuffix(base, "/api") {
		return base
	}
	return base + "/api"
}

// EffectiveTimeout returns the request timeout, defaulting to DefaultTimeout.
func (c Connection) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
