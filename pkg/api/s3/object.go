package s3

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kushalthaman/3fs3/pkg/api/s3err"
	"github.com/kushalthaman/3fs3/pkg/storage"
)

const (
	headerCopySource        = "x-amz-copy-source"
	headerMetadataDirective = "x-amz-metadata-directive"
	headerContentSHA256     = "x-amz-content-sha256"
)

// unsupportedObjectQueries name multipart and per-object sub-resources.
var unsupportedObjectQueries = []string{
	"uploadId", "uploads", "partNumber", "acl", "tagging", "retention",
	"legal-hold", "torrent", "attributes",
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := splitPath(r)
	res := resourceOf(bucket, key)
	if hasAnyQuery(r, unsupportedObjectQueries) {
		s.writeError(w, r, s3err.NotImplemented, res)
		return
	}
	if r.Header.Get(headerCopySource) != "" {
		s.handleCopyObject(w, r, bucket, key)
		return
	}
	payload := r.Header.Get(headerContentSHA256)
	if strings.HasPrefix(payload, "STREAMING-") {
		// aws-chunked bodies carry framing we do not decode
		s.writeError(w, r, s3err.NotImplemented, res)
		return
	}
	if s.maxObjectSize > 0 && r.ContentLength > s.maxObjectSize {
		s.writeError(w, r, s3err.EntityTooLarge, res)
		return
	}

	sink, err := s.objs.CreateAtomic(r.Context(), bucket, key)
	if err != nil {
		s.fail(w, r, err, res)
		return
	}
	var body io.Reader = r.Body
	if s.maxObjectSize > 0 {
		body = io.LimitReader(body, s.maxObjectSize+1)
	}
	var sum hash.Hash
	if isHexSHA256(payload) {
		sum = sha256.New()
		body = io.TeeReader(body, sum)
	}
	n, err := io.Copy(sink, body)
	switch {
	case s.maxObjectSize > 0 && n > s.maxObjectSize:
		_ = sink.Abort()
		s.writeError(w, r, s3err.EntityTooLarge, res)
		return
	case err != nil:
		_ = sink.Abort()
		s.log.Debug("s3: put body read failed", slog.String("resource", res), slog.String("error", err.Error()))
		s.writeError(w, r, s3err.IncompleteBody, res)
		return
	case r.ContentLength >= 0 && n != r.ContentLength:
		_ = sink.Abort()
		s.log.Debug("s3: put body length mismatch", slog.String("resource", res),
			slog.Int64("received", n), slog.Int64("content_length", r.ContentLength))
		s.writeError(w, r, s3err.IncompleteBody, res)
		return
	case sum != nil && !strings.EqualFold(hex.EncodeToString(sum.Sum(nil)), payload):
		_ = sink.Abort()
		s.writeError(w, r, s3err.ContentSHA256Mismatch, res)
		return
	}

	oi, err := sink.Commit(r.Header.Get("Content-Type"))
	if err != nil {
		s.fail(w, r, err, res)
		return
	}
	w.Header().Set("ETag", quoteETag(oi.ETag))
	w.WriteHeader(http.StatusOK)
}

// handleCopyObject streams an existing object into a new destination. The
// content type is carried over unless the request asks to REPLACE it.
func (s *Server) handleCopyObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	res := resourceOf(bucket, key)
	srcBucket, srcKey, ok := parseCopySource(r.Header.Get(headerCopySource), bucket)
	if !ok {
		s.writeError(w, r, s3err.InvalidArgument, res)
		return
	}
	src, info, err := s.objs.Open(r.Context(), srcBucket, srcKey)
	if err != nil {
		// an absent source is NoSuchKey whether its bucket or key is missing
		if errors.Is(err, storage.ErrNoSuchBucket) {
			err = storage.ErrNoSuchKey
		}
		s.fail(w, r, err, resourceOf(srcBucket, srcKey))
		return
	}
	defer src.Close()

	contentType := info.ContentType
	if strings.EqualFold(r.Header.Get(headerMetadataDirective), "REPLACE") {
		contentType = r.Header.Get("Content-Type")
	}
	sink, err := s.objs.CreateAtomic(r.Context(), bucket, key)
	if err != nil {
		s.fail(w, r, err, res)
		return
	}
	if _, err := io.Copy(sink, src); err != nil {
		_ = sink.Abort()
		s.fail(w, r, err, res)
		return
	}
	oi, err := sink.Commit(contentType)
	if err != nil {
		s.fail(w, r, err, res)
		return
	}
	writeXML(w, http.StatusOK, "CopyObjectResult", copyObjectResult{
		LastModified: formatXMLTime(oi.LastModified),
		ETag:         quoteETag(oi.ETag),
	})
}

// parseCopySource splits "/bucket/key" (optionally URL-escaped and with a
// ?versionId suffix). A value without a slash names a key in dstBucket.
func parseCopySource(v, dstBucket string) (bucket, key string, ok bool) {
	v, _, _ = strings.Cut(v, "?")
	v, err := url.PathUnescape(v)
	if err != nil {
		return "", "", false
	}
	v = strings.TrimPrefix(v, "/")
	b, k, found := strings.Cut(v, "/")
	if !found {
		b, k = dstBucket, v
	}
	if b == "" || k == "" {
		return "", "", false
	}
	return b, k, true
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := splitPath(r)
	res := resourceOf(bucket, key)
	if hasAnyQuery(r, unsupportedObjectQueries) {
		s.writeError(w, r, s3err.NotImplemented, res)
		return
	}
	rc, info, err := s.objs.Open(r.Context(), bucket, key)
	if err != nil {
		s.fail(w, r, err, res)
		return
	}
	defer rc.Close()
	setObjectHeaders(w, info)

	if hdr := r.Header.Get("Range"); hdr != "" {
		start, end, ok := parseRange(hdr, info.Size)
		switch {
		case ok:
			if _, err := rc.Seek(start, io.SeekStart); err != nil {
				s.fail(w, r, err, res)
				return
			}
			remain := end - start + 1
			w.Header().Set("Content-Range", "bytes "+itoa64(start)+"-"+itoa64(end)+"/"+itoa64(info.Size))
			w.Header().Set("Content-Length", itoa64(remain))
			w.WriteHeader(http.StatusPartialContent)
			s.stream(w, rc, remain, res)
			return
		case s.strictRanges:
			w.Header().Set("Content-Range", "bytes */"+itoa64(info.Size))
			w.Header().Del("Content-Type")
			w.Header().Del("ETag")
			w.Header().Del("Last-Modified")
			s.writeError(w, r, s3err.InvalidRange, res)
			return
		}
	}
	w.Header().Set("Content-Length", itoa64(info.Size))
	w.WriteHeader(http.StatusOK)
	s.stream(w, rc, info.Size, res)
}

// stream copies n bytes to the client. Headers are already sent, so a
// failure can only be logged.
func (s *Server) stream(w io.Writer, rc io.Reader, n int64, res string) {
	if _, err := io.CopyN(w, rc, n); err != nil {
		s.log.Debug("s3: response body interrupted", slog.String("resource", res), slog.String("error", err.Error()))
	}
}

func (s *Server) handleHeadObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := splitPath(r)
	info, err := s.objs.Stat(r.Context(), bucket, key)
	if err != nil {
		s.fail(w, r, err, resourceOf(bucket, key))
		return
	}
	setObjectHeaders(w, info)
	w.Header().Set("Content-Length", itoa64(info.Size))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := splitPath(r)
	res := resourceOf(bucket, key)
	if hasAnyQuery(r, unsupportedObjectQueries) {
		s.writeError(w, r, s3err.NotImplemented, res)
		return
	}
	if err := s.objs.Delete(r.Context(), bucket, key); err != nil {
		s.fail(w, r, err, res)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func setObjectHeaders(w http.ResponseWriter, info storage.ObjectInfo) {
	h := w.Header()
	ct := info.ContentType
	if ct == "" {
		ct = storage.DefaultContentType
	}
	h.Set("Content-Type", ct)
	if info.ETag != "" {
		h.Set("ETag", quoteETag(info.ETag))
	}
	h.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")
}

func isHexSHA256(v string) bool {
	if len(v) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(v)
	return err == nil
}
