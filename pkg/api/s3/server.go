package s3

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kushalthaman/3fs3/pkg/api/requestid"
	"github.com/kushalthaman/3fs3/pkg/api/s3err"
	"github.com/kushalthaman/3fs3/pkg/metadata"
	"github.com/kushalthaman/3fs3/pkg/storage"
)

// Options tunes handler behavior.
type Options struct {
	// Region is reported by GetBucketLocation and x-amz-bucket-region.
	Region string
	// StrictRanges answers unsatisfiable Range headers with 416 instead of
	// the full object.
	StrictRanges bool
	// StrictBucketNames applies the S3 naming rules on CreateBucket. Without
	// it any path-segment-safe name is accepted.
	StrictBucketNames bool
	// MaxObjectSize bounds PUT bodies; 0 means unlimited.
	MaxObjectSize int64
	Logger        *slog.Logger
}

// Server routes S3 requests to the bucket store and object backend.
type Server struct {
	buckets metadata.Store
	objs    storage.Backend
	log     *slog.Logger

	region            string
	strictRanges      bool
	strictBucketNames bool
	maxObjectSize     int64
}

// New returns a new S3 API server with dependencies.
func New(buckets metadata.Store, objs storage.Backend, opt Options) *Server {
	if opt.Region == "" {
		opt.Region = "us-east-1"
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Server{
		buckets:           buckets,
		objs:              objs,
		log:               opt.Logger,
		region:            opt.Region,
		strictRanges:      opt.StrictRanges,
		strictBucketNames: opt.StrictBucketNames,
		maxObjectSize:     opt.MaxObjectSize,
	}
}

// Handler returns an http.Handler for S3 routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, s3err.InvalidArgument, r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, s3err.MethodNotAllowed, r.URL.Path)
	})

	r.Get("/", s.handleListBuckets)
	r.Route("/{bucket}", func(r chi.Router) {
		r.Put("/", s.handleCreateBucket)
		r.Head("/", s.handleHeadBucket)
		r.Get("/", s.handleGetBucket)
		r.Delete("/", s.handleDeleteBucket)
		r.Post("/", s.handleNotImplemented)
		r.Options("/", s.handleOptions)

		r.Put("/*", s.handlePutObject)
		r.Get("/*", s.handleGetObject)
		r.Head("/*", s.handleHeadObject)
		r.Delete("/*", s.handleDeleteObject)
		r.Post("/*", s.handleNotImplemented)
		r.Options("/*", s.handleOptions)
	})
	return r
}

// splitPath returns the bucket and key addressed by the decoded request
// path. The key keeps every byte after the first separator, including
// repeated or trailing slashes.
func splitPath(r *http.Request) (bucket, key string) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ = strings.Cut(p, "/")
	return bucket, key
}

func resourceOf(bucket, key string) string {
	if key == "" {
		return "/" + bucket
	}
	return "/" + bucket + "/" + key
}

// AuthReject renders an authentication failure as an S3 Error document.
func AuthReject(err error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s3err.Write(w, r, requestid.From(r.Context()), s3err.MapError(err), r.URL.Path)
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, apiErr s3err.APIError, resource string) {
	s3err.Write(w, r, requestid.From(r.Context()), apiErr, resource)
}

// fail maps err to its S3 error and writes it. Internal errors are logged
// since the client only sees a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, resource string) {
	apiErr := s3err.MapError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.log.Error("s3: request failed",
			slog.String("method", r.Method),
			slog.String("resource", resource),
			slog.String("request_id", requestid.From(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	s.writeError(w, r, apiErr, resource)
}

func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	bucket, key := splitPath(r)
	s.writeError(w, r, s3err.NotImplemented, resourceOf(bucket, key))
}

// handleOptions answers CORS preflight requests permissively.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, PUT, HEAD, DELETE, POST")
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	} else {
		h.Set("Access-Control-Allow-Headers", "*")
	}
	h.Set("Access-Control-Expose-Headers", "ETag, x-amz-request-id")
	h.Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

func quoteETag(s string) string {
	if strings.HasPrefix(s, "\"") {
		return s
	}
	return "\"" + s + "\""
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
