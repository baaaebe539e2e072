package sigv4

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kushalthaman/3fs3/pkg/api/intercept"
)

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// InterceptorOptions controls which requests are verified and how
// rejections are rendered.
type InterceptorOptions struct {
	// Exempt requests skip verification (health, readiness and metrics paths).
	Exempt func(*http.Request) bool
	// Bypass disables verification entirely. This is an insecure mode meant
	// for local development only.
	Bypass bool
	// Reject renders the 403 response for err. Defaults to a plain-text body.
	Reject func(err error) http.Handler
	Logger *slog.Logger
}

// Interceptor authenticates each request with v. A failed verification
// short-circuits the chain, so the wrapped handler never sees the request.
func Interceptor(v *Verifier, opt InterceptorOptions) intercept.Interceptor {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	reject := opt.Reject
	if reject == nil {
		reject = func(err error) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "AccessDenied", http.StatusForbidden)
			})
		}
	}
	return intercept.Func(func(r *http.Request) intercept.Verdict {
		if opt.Bypass || (opt.Exempt != nil && opt.Exempt(r)) {
			return intercept.Continue(r)
		}
		id, err := v.Verify(r)
		if err != nil {
			kind := "unknown"
			var ae *AuthError
			if errors.As(err, &ae) {
				kind = ae.Kind.String()
			}
			log.Debug("sigv4: request rejected",
				slog.String("kind", kind),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			return intercept.ShortCircuit(reject(err))
		}
		return intercept.Continue(r.WithContext(WithIdentity(r.Context(), id)))
	})
}
