package webhooks

import (
	"crypto/subtle"
	"net/http"

	"github.com/ignite/mailbridge/internal/pkg/httputil"
	"github.com/ignite/mailbridge/internal/pkg/logger"
)

// BasicAuth enforces the shared webhook secret. secrets is a rotation
// list of "user:password" pairs; a request authenticating with any
// listed pair passes, so a new secret can roll out while ESPs still
// deliver with the old one. Failures answer 400 so ESPs disable the
// endpoint instead of retrying against a secret that will never work.
func BasicAuth(secrets []string) func(http.Handler) http.Handler {
	if len(secrets) == 0 {
		logger.Warn("webhook basic auth disabled: no webhook secrets configured")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secrets) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			user, pass, ok := r.BasicAuth()
			if !ok || !secretListed(secrets, user+":"+pass) {
				logger.Warn("webhook auth rejected", "path", r.URL.Path)
				httputil.BadRequest(w, "webhook authentication failed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretListed(secrets []string, presented string) bool {
	matched := false
	for _, secret := range secrets {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1 {
			matched = true
		}
	}
	return matched
}
