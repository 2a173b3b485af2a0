package transport

import (
	"fmt"
	"net/http"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Credentials is the username and password pair sent with every request.
type Credentials struct {
	Username string
	Password string
}

// TokenAuth authenticates go-git HTTP requests with a token read at request time.
type TokenAuth struct {
	credentials func() Credentials
}

var _ githttp.AuthMethod = (*TokenAuth)(nil)

// NewTokenAuth returns an AuthMethod that asks credentials for every outbound request.
func NewTokenAuth(credentials func() Credentials) *TokenAuth {
	return &TokenAuth{credentials: credentials}
}

// StaticToken returns a credentials callback for a fixed access token.
func StaticToken(token string) func() Credentials {
	return func() Credentials {
		return Credentials{Username: domain.AuthUsername, Password: token}
	}
}

// Name identifies the auth method.
func (a *TokenAuth) Name() string {
	return "docsync-token"
}

// String never includes the token.
func (a *TokenAuth) String() string {
	return fmt.Sprintf("%s - %s:%s", a.Name(), domain.AuthUsername, "*******")
}

// SetAuth sets HTTP basic authentication on r.
func (a *TokenAuth) SetAuth(r *http.Request) {
	if a == nil || a.credentials == nil {
		return
	}
	c := a.credentials()
	r.SetBasicAuth(c.Username, c.Password)
}
