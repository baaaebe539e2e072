package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kushalthaman/3fs3/pkg/api/intercept"
	"github.com/kushalthaman/3fs3/pkg/api/requestid"
	"github.com/kushalthaman/3fs3/pkg/api/s3"
	"github.com/kushalthaman/3fs3/pkg/config"
	"github.com/kushalthaman/3fs3/pkg/health"
	"github.com/kushalthaman/3fs3/pkg/metadata"
	"github.com/kushalthaman/3fs3/pkg/obs/metrics"
	"github.com/kushalthaman/3fs3/pkg/obs/tracing"
	"github.com/kushalthaman/3fs3/pkg/security/sigv4"
	"github.com/kushalthaman/3fs3/pkg/storage"
)

type gateway struct {
	handler http.Handler
	health  *health.Checker
	fs      *storage.LocalFS
	root    string
}

// probePaths bypass authentication and tracing.
var probePaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

func exempt(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	_, ok := probePaths[r.URL.Path]
	return ok
}

// buildGateway wires storage, auth, observability and the S3 handlers into
// one handler tree.
func buildGateway(cfg config.Config, log *slog.Logger) (*gateway, error) {
	fs, err := storage.NewLocalFS(cfg.DataRoot)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	fs.SetObserver(metrics.NewStorageMetrics(m.Registry()))
	m.Registry().MustRegister(metrics.NewDiskCollector(fs.Root()))

	skew, _ := cfg.ClockSkew()
	maxObj, _ := cfg.MaxObjectBytes()
	keys := make([]sigv4.AccessKey, 0, len(cfg.AccessKeys))
	for _, k := range cfg.AccessKeys {
		keys = append(keys, sigv4.AccessKey{AccessKey: k.AccessKey, SecretKey: k.SecretKey, User: k.User})
	}
	verifier := sigv4.NewVerifier(sigv4.Options{
		Credentials: sigv4.NewStaticStore(keys),
		MaxSkew:     skew,
	})
	auth := sigv4.Interceptor(verifier, sigv4.InterceptorOptions{
		Exempt: exempt,
		Bypass: cfg.AuthMode == config.AuthNone,
		Reject: func(err error) http.Handler {
			var ae *sigv4.AuthError
			if errors.As(err, &ae) {
				m.AuthRejected(ae.Kind.String())
			}
			return s3.AuthReject(err)
		},
		Logger: log,
	})

	api := s3.New(metadata.NewDirStore(fs), fs, s3.Options{
		Region:            cfg.Region,
		StrictRanges:      cfg.StrictRanges,
		StrictBucketNames: cfg.StrictBucketNames,
		MaxObjectSize:     maxObj,
		Logger:            log,
	})
	hc := health.New(fs.Root(), log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", hc.Liveness)
	mux.HandleFunc("GET /readyz", hc.Readiness)
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", m.Handler())
	}

	var h http.Handler = api.Handler()
	h = intercept.New(auth).Then(h)
	h = tracing.Middleware(h)
	h = m.Middleware(h)
	h = requestid.Middleware(h)

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := probePaths[r.URL.Path]; ok {
			mux.ServeHTTP(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
	return &gateway{handler: root, health: hc, fs: fs, root: fs.Root()}, nil
}
