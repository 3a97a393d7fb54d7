package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Strategy controls how the server distributes requests across endpoints.
type Strategy string

const (
	StrategySequential  Strategy = "sequential"
	StrategyInterleaved Strategy = "interleaved"
	StrategyRandom      Strategy = "random"
)

// AuthType selects how the server authenticates generated requests.
type AuthType string

const (
	AuthNone     AuthType = "none"
	AuthBearer   AuthType = "bearer"
	AuthMultiple AuthType = "multiple"
)

// EndpointSpec is one endpoint exercised by a test.
type EndpointSpec struct {
	Method  string            `json:"method" yaml:"method"`
	Path    string            `json:"path" yaml:"path"`
	Body    string            `json:"body,omitempty" yaml:"body"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
}

// Account is one credential used by multi-account authentication.
type Account struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// AuthConfig describes request authentication for a test.
type AuthConfig struct {
	Type     AuthType  `json:"type" yaml:"type"`
	Token    string    `json:"token,omitempty" yaml:"token"`
	LoginURL string    `json:"loginUrl,omitempty" yaml:"login_url"`
	Accounts []Account `json:"accounts,omitempty" yaml:"accounts"`
}

// TestConfig is the body submitted to start a load test.
type TestConfig struct {
	TargetURL         string         `json:"targetUrl" yaml:"target_url"`
	Endpoints         []EndpointSpec `json:"endpoints" yaml:"endpoints"`
	ConcurrencyLevels []int          `json:"concurrencyLevels" yaml:"concurrency_levels"`
	RequestsPerLevel  int            `json:"requestsPerLevel" yaml:"requests_per_level"`
	Strategy          Strategy       `json:"strategy,omitempty" yaml:"strategy"`
	Auth              *AuthConfig    `json:"auth,omitempty" yaml:"auth"`
}

// MultiAccount reports whether the test authenticates with several accounts.
func (c TestConfig) MultiAccount() bool {
	return c.Auth != nil && c.Auth.Type == AuthMultiple
}

// Validate reports every problem with the configuration.
func (c TestConfig) Validate() error {
	var result *multierror.Error

	if u, err := url.Parse(c.TargetURL); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("target_url %q is not an absolute URL", c.TargetURL))
	}
	if len(c.Endpoints) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one endpoint is required"))
	}
	for i, ep := range c.Endpoints {
		if !validMethod(ep.Method) {
			result = multierror.Append(result, fmt.Errorf("endpoints[%d]: unsupported method %q", i, ep.Method))
		}
		if !strings.HasPrefix(ep.Path, "/") {
			result = multierror.Append(result, fmt.Errorf("endpoints[%d]: path %q must start with /", i, ep.Path))
		}
	}
	if len(c.ConcurrencyLevels) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one concurrency level is required"))
	}
	for i, level := range c.ConcurrencyLevels {
		if level <= 0 {
			result = multierror.Append(result, fmt.Errorf("concurrency_levels[%d]: %d is not positive", i, level))
		}
	}
	if c.RequestsPerLevel <= 0 {
		result = multierror.Append(result, fmt.Errorf("requests_per_level must be positive"))
	}
	switch c.Strategy {
	case "", StrategySequential, StrategyInterleaved, StrategyRandom:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown strategy %q", c.Strategy))
	}
	if c.Auth != nil {
		switch c.Auth.Type {
		case "", AuthNone:
		case AuthBearer:
			if c.Auth.Token == "" {
				result = multierror.Append(result, fmt.Errorf("auth: bearer auth requires a token"))
			}
		case AuthMultiple:
			if len(c.Auth.Accounts) == 0 {
				result = multierror.Append(result, fmt.Errorf("auth: multiple auth requires accounts"))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("auth: unknown type %q", c.Auth.Type))
		}
	}

	return result.ErrorOrNil()
}

func validMethod(m string) bool {
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}
