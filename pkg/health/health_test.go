package health

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func probe(h http.HandlerFunc) int {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w.Code
}

func TestReadiness(t *testing.T) {
	root := t.TempDir()
	c := New(root, nil)
	if code := probe(c.Liveness); code != http.StatusOK {
		t.Fatalf("liveness = %d", code)
	}
	if code := probe(c.Readiness); code != http.StatusServiceUnavailable {
		t.Fatalf("readiness before SetReady = %d", code)
	}
	c.SetReady(true)
	if code := probe(c.Readiness); code != http.StatusOK {
		t.Fatalf("readiness = %d", code)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("probe file left behind: %v", entries)
	}

	gone := New(filepath.Join(root, "missing"), nil)
	gone.SetReady(true)
	if code := probe(gone.Readiness); code != http.StatusServiceUnavailable {
		t.Fatalf("readiness with missing root = %d", code)
	}
}
