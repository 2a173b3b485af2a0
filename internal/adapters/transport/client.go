package transport

import (
	"errors"
	"fmt"
	"net/http"

	gittransport "github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// NewClient returns a go-git smart-HTTP transport whose requests all go through host.
// Each caller gets its own client; the global protocol registry is left alone.
func NewClient(host domain.HostHTTP) gittransport.Transport {
	return githttp.NewClient(&http.Client{
		Transport: NewRoundTripper(host),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})
}

// Classify maps go-git transport errors onto the domain taxonomy.
// Rejected credentials become domain.ErrAuthentication; everything else is domain.ErrTransport.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAuthentication):
		return err
	case errors.Is(err, gittransport.ErrAuthenticationRequired),
		errors.Is(err, gittransport.ErrAuthorizationFailed),
		errors.Is(err, gittransport.ErrInvalidAuthMethod):
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	case errors.Is(err, domain.ErrTransport):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
}
