package transport

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/changeflow/config"
)

// Credentials is the opaque handle used to authenticate requests to the
// ticketing service. The library passes it through to the transport and
// never inspects secrets beyond the bearer expiry fail-fast below.
type Credentials struct {
	strategy string
	token    string
	username string
	password string
}

// NewCredentials builds a credentials handle from configuration.
// Secrets are resolved from the referenced environment variables.
func NewCredentials(cfg config.AuthConfig) (*Credentials, error) {
	switch cfg.Strategy {
	case "":
		return &Credentials{}, nil
	case "token":
		token := os.Getenv(cfg.TokenEnv)
		if token == "" {
			return nil, fmt.Errorf("transport: token env %s is empty", cfg.TokenEnv)
		}
		return &Credentials{strategy: "token", token: token}, nil
	case "basic":
		password := os.Getenv(cfg.PasswordEnv)
		if cfg.Username == "" || password == "" {
			return nil, fmt.Errorf("transport: basic auth requires username and password env %s", cfg.PasswordEnv)
		}
		return &Credentials{strategy: "basic", username: cfg.Username, password: password}, nil
	default:
		return nil, fmt.Errorf("transport: unsupported auth strategy %q", cfg.Strategy)
	}
}

// Apply sets the authentication header on req. Bearer tokens that look
// like JWTs are checked for expiry with an unverified claim parse, so
// an expired token fails before the round trip instead of as a remote
// rejection.
func (c *Credentials) Apply(req *http.Request) error {
	switch c.strategy {
	case "token":
		if err := checkTokenExpiry(c.token); err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	case "basic":
		req.SetBasicAuth(c.username, c.password)
	}
	return nil
}

// checkTokenExpiry rejects expired JWT bearer tokens. Opaque tokens and
// JWTs without an exp claim pass through untouched; verification is the
// service's job, not the client's.
func checkTokenExpiry(token string) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(time.Now()) {
		return fmt.Errorf("transport: bearer token expired at %s", exp.Format(time.RFC3339))
	}
	return nil
}
