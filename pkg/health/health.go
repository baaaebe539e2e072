// Package health serves liveness and readiness probes for the gateway.
package health

import (
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
)

// Checker tracks whether the process should receive traffic. Readiness also
// requires that the data root accepts writes.
type Checker struct {
	root  string
	ready atomic.Bool
	log   *slog.Logger
}

// New returns a Checker probing root. It starts not ready.
func New(root string, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{root: root, log: log}
}

// SetReady flips the readiness flag, e.g. once the listener is up and again
// when shutdown begins.
func (c *Checker) SetReady(v bool) { c.ready.Store(v) }

// Writable creates and removes a hidden probe file under the data root.
func (c *Checker) Writable() error {
	f, err := os.CreateTemp(c.root, ".s3gw-ready-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Liveness always answers 200 while the process serves HTTP.
func (c *Checker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readiness answers 503 until SetReady(true) and whenever the data root is
// not writable.
func (c *Checker) Readiness(w http.ResponseWriter, r *http.Request) {
	if !c.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	if err := c.Writable(); err != nil {
		c.log.Warn("health: data root not writable", slog.String("root", c.root), slog.String("error", err.Error()))
		http.Error(w, "data root not writable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
