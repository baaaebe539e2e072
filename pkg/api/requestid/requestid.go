// Package requestid tags every request with an id echoed in x-amz-request-id
// and in S3 error bodies.
package requestid

import (
	"context"
	"net/http"

	"github.com/rs/xid"
)

// Header is the response header carrying the id.
const Header = "x-amz-request-id"

type ctxKey struct{}

// Middleware assigns a fresh id, stores it in the request context and sets
// the response header before the wrapped handler runs. A request that already
// carries an id keeps it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if From(r.Context()) != "" {
			next.ServeHTTP(w, r)
			return
		}
		id := xid.New().String()
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// From returns the id stored in ctx, or "" when none was assigned.
func From(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
