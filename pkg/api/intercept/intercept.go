// Package intercept runs an ordered list of request interceptors in front of
// an http.Handler. An interceptor either lets the request continue, possibly
// with a derived request, or short-circuits with its own response. Once an
// interceptor short-circuits, neither later interceptors nor the wrapped
// handler see the request.
package intercept

import "net/http"

// Verdict is the outcome of a single interceptor.
type Verdict struct {
	req  *http.Request
	resp http.Handler
}

// Continue passes r (or the original request when r is nil) to the next stage.
func Continue(r *http.Request) Verdict { return Verdict{req: r} }

// ShortCircuit stops the chain and answers with h.
func ShortCircuit(h http.Handler) Verdict { return Verdict{resp: h} }

// Stopped reports whether the verdict ends the chain.
func (v Verdict) Stopped() bool { return v.resp != nil }

// Interceptor inspects a request before it reaches the handler.
type Interceptor interface {
	Intercept(r *http.Request) Verdict
}

// Func adapts a function to Interceptor.
type Func func(r *http.Request) Verdict

func (f Func) Intercept(r *http.Request) Verdict { return f(r) }

// Chain is an ordered list of interceptors.
type Chain []Interceptor

// New builds a chain; nil entries are dropped.
func New(ics ...Interceptor) Chain {
	out := make(Chain, 0, len(ics))
	for _, ic := range ics {
		if ic != nil {
			out = append(out, ic)
		}
	}
	return out
}

// Then wraps next so that every interceptor runs first, in order.
func (c Chain) Then(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, ic := range c {
			v := ic.Intercept(r)
			if v.Stopped() {
				v.resp.ServeHTTP(w, r)
				return
			}
			if v.req != nil {
				r = v.req
			}
		}
		next.ServeHTTP(w, r)
	})
}
