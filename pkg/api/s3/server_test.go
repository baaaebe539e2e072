package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kushalthaman/3fs3/pkg/metadata"
	"github.com/kushalthaman/3fs3/pkg/storage"
)

type testEnv struct {
	h    http.Handler
	fs   *storage.LocalFS
	root string
}

func newTestEnv(t *testing.T, opt Options) *testEnv {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewLocalFS(root)
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	srv := New(metadata.NewDirStore(fs), fs, opt)
	return &testEnv{h: srv.Handler(), fs: fs, root: root}
}

func (e *testEnv) do(method, target string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rd)
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, r)
	return w
}

func (e *testEnv) mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func (e *testEnv) put(t *testing.T, bucket, key string, body []byte) {
	t.Helper()
	e.mustStatus(t, e.do(http.MethodPut, "/"+bucket+"/"+key, body, nil), http.StatusOK)
}

func md5hex(b []byte) string {
	h := md5.Sum(b)
	return hex.EncodeToString(h[:])
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Code string `xml:"Code"`
	}
	if err := xml.Unmarshal(body, &e); err != nil {
		t.Fatalf("error body is not XML: %v: %s", err, body)
	}
	return e.Code
}

func TestBuckets_Lifecycle(t *testing.T) {
	e := newTestEnv(t, Options{})

	w := e.do(http.MethodGet, "/", nil, nil)
	e.mustStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "<ListAllMyBucketsResult") {
		t.Fatalf("unexpected list body: %s", w.Body.String())
	}

	e.mustStatus(t, e.do(http.MethodPut, "/x", nil, nil), http.StatusOK)
	w = e.do(http.MethodPut, "/x", nil, nil)
	e.mustStatus(t, w, http.StatusConflict)
	if code := errorCode(t, w.Body.Bytes()); code != "BucketAlreadyOwnedByYou" {
		t.Fatalf("expected BucketAlreadyOwnedByYou, got %s", code)
	}

	w = e.do(http.MethodGet, "/", nil, nil)
	var res listAllMyBucketsResult
	if err := xml.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Buckets) != 1 || res.Buckets[0].Name != "x" {
		t.Fatalf("expected x in list: %s", w.Body.String())
	}

	e.mustStatus(t, e.do(http.MethodHead, "/x", nil, nil), http.StatusOK)
	e.mustStatus(t, e.do(http.MethodHead, "/nope", nil, nil), http.StatusNotFound)

	e.put(t, "x", "x", []byte("x"))
	w = e.do(http.MethodDelete, "/x", nil, nil)
	e.mustStatus(t, w, http.StatusConflict)
	if code := errorCode(t, w.Body.Bytes()); code != "BucketNotEmpty" {
		t.Fatalf("expected BucketNotEmpty, got %s", code)
	}
	e.mustStatus(t, e.do(http.MethodDelete, "/x/x", nil, nil), http.StatusNoContent)
	e.mustStatus(t, e.do(http.MethodDelete, "/x", nil, nil), http.StatusNoContent)
	e.mustStatus(t, e.do(http.MethodDelete, "/x", nil, nil), http.StatusNotFound)
}

func TestBuckets_InvalidName(t *testing.T) {
	e := newTestEnv(t, Options{})
	for _, target := range []string{"/.hidden", "/a%5Cb", "/a%00b"} {
		w := e.do(http.MethodPut, target, nil, nil)
		e.mustStatus(t, w, http.StatusBadRequest)
		if code := errorCode(t, w.Body.Bytes()); code != "InvalidBucketName" {
			t.Fatalf("%s: expected InvalidBucketName, got %s", target, code)
		}
	}
	// Short and mixed-case names are path safe and accepted by default.
	for _, name := range []string{"b", "Upper", "bad_char"} {
		e.mustStatus(t, e.do(http.MethodPut, "/"+name, nil, nil), http.StatusOK)
	}
}

func TestBuckets_StrictNames(t *testing.T) {
	e := newTestEnv(t, Options{StrictBucketNames: true})
	for _, name := range []string{"ab", "Upper", "-lead", "a..b", "bad_char"} {
		w := e.do(http.MethodPut, "/"+name, nil, nil)
		e.mustStatus(t, w, http.StatusBadRequest)
		if code := errorCode(t, w.Body.Bytes()); code != "InvalidBucketName" {
			t.Fatalf("%s: expected InvalidBucketName, got %s", name, code)
		}
	}
	e.mustStatus(t, e.do(http.MethodPut, "/my-bucket", nil, nil), http.StatusOK)
}

func TestBucket_Location(t *testing.T) {
	e := newTestEnv(t, Options{Region: "eu-west-3"})
	e.mustStatus(t, e.do(http.MethodPut, "/bkt", nil, nil), http.StatusOK)
	w := e.do(http.MethodGet, "/bkt?location", nil, nil)
	e.mustStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), ">eu-west-3</LocationConstraint>") {
		t.Fatalf("unexpected location body: %s", w.Body.String())
	}
	e.mustStatus(t, e.do(http.MethodGet, "/missing?location", nil, nil), http.StatusNotFound)
}

func TestObjects_PutGetHeadDelete(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)

	body := []byte("hello")
	w := e.do(http.MethodPut, "/b/dir/hello.txt", body, map[string]string{"Content-Type": "text/plain"})
	e.mustStatus(t, w, http.StatusOK)
	wantETag := "\"" + md5hex(body) + "\""
	if got := w.Header().Get("ETag"); got != wantETag {
		t.Fatalf("put ETag %q, want %q", got, wantETag)
	}

	w = e.do(http.MethodGet, "/b/dir/hello.txt", nil, nil)
	e.mustStatus(t, w, http.StatusOK)
	if got := w.Body.String(); got != "hello" {
		t.Fatalf("unexpected body: %q", got)
	}
	if w.Header().Get("ETag") != wantETag || w.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("unexpected headers: %v", w.Header())
	}
	if w.Header().Get("Content-Length") != "5" || w.Header().Get("Last-Modified") == "" {
		t.Fatalf("missing length or last-modified: %v", w.Header())
	}

	w = e.do(http.MethodHead, "/b/dir/hello.txt", nil, nil)
	e.mustStatus(t, w, http.StatusOK)
	if w.Body.Len() != 0 || w.Header().Get("Content-Length") != "5" {
		t.Fatalf("head: body=%q headers=%v", w.Body.String(), w.Header())
	}

	e.mustStatus(t, e.do(http.MethodDelete, "/b/dir/hello.txt", nil, nil), http.StatusNoContent)
	e.mustStatus(t, e.do(http.MethodDelete, "/b/dir/hello.txt", nil, nil), http.StatusNoContent)

	w = e.do(http.MethodGet, "/b/dir/hello.txt", nil, nil)
	e.mustStatus(t, w, http.StatusNotFound)
	if code := errorCode(t, w.Body.Bytes()); code != "NoSuchKey" {
		t.Fatalf("expected NoSuchKey, got %s", code)
	}
	if _, err := os.Stat(filepath.Join(e.root, "b", "dir")); !os.IsNotExist(err) {
		t.Fatalf("empty parent should be pruned: %v", err)
	}
}

func TestObjects_DefaultContentTypeAndSidecar(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)
	e.put(t, "b", "k", []byte("data"))

	raw, err := os.ReadFile(filepath.Join(e.root, "b", "k"+storage.MetaSuffix))
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	want := `{"etag":"\"` + md5hex([]byte("data")) + `\"","content_type":"application/octet-stream"}`
	if string(raw) != want {
		t.Fatalf("sidecar = %s, want %s", raw, want)
	}

	w := e.do(http.MethodGet, "/b/k", nil, nil)
	if ct := w.Header().Get("Content-Type"); ct != storage.DefaultContentType {
		t.Fatalf("content type %q", ct)
	}
}

func TestObjects_MissingSidecarOmitsETag(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)
	e.put(t, "b", "k", []byte("data"))
	if err := os.Remove(filepath.Join(e.root, "b", "k"+storage.MetaSuffix)); err != nil {
		t.Fatal(err)
	}
	w := e.do(http.MethodGet, "/b/k", nil, nil)
	e.mustStatus(t, w, http.StatusOK)
	if w.Header().Get("ETag") != "" || w.Body.String() != "data" {
		t.Fatalf("expected data without ETag, got %v %q", w.Header(), w.Body.String())
	}
}

func TestObjects_PutErrors(t *testing.T) {
	e := newTestEnv(t, Options{MaxObjectSize: 8})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)

	w := e.do(http.MethodPut, "/missing/k", []byte("x"), nil)
	e.mustStatus(t, w, http.StatusNotFound)
	if code := errorCode(t, w.Body.Bytes()); code != "NoSuchBucket" {
		t.Fatalf("expected NoSuchBucket, got %s", code)
	}

	w = e.do(http.MethodPut, "/b/big", []byte("0123456789"), nil)
	e.mustStatus(t, w, http.StatusBadRequest)
	if code := errorCode(t, w.Body.Bytes()); code != "EntityTooLarge" {
		t.Fatalf("expected EntityTooLarge, got %s", code)
	}

	w = e.do(http.MethodPut, "/b/streamed", []byte("x"), map[string]string{
		"x-amz-content-sha256": "STREAMING-AWS4-HMAC-SHA256-PAYLOAD",
	})
	e.mustStatus(t, w, http.StatusNotImplemented)

	w = e.do(http.MethodPut, "/b/sum", []byte("abc"), map[string]string{
		"x-amz-content-sha256": strings.Repeat("0", 64),
	})
	e.mustStatus(t, w, http.StatusBadRequest)
	if code := errorCode(t, w.Body.Bytes()); code != "XAmzContentSHA256Mismatch" {
		t.Fatalf("expected XAmzContentSHA256Mismatch, got %s", code)
	}
	w = e.do(http.MethodPut, "/b/sum", []byte("abc"), map[string]string{
		"x-amz-content-sha256": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	})
	e.mustStatus(t, w, http.StatusOK)

	w = e.do(http.MethodPut, "/b/a/../../etc", []byte("x"), nil)
	if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
		t.Fatalf("traversal key: got %d", w.Code)
	}
	e.mustStatus(t, e.do(http.MethodGet, "/b/big", nil, nil), http.StatusNotFound)
	e.mustStatus(t, e.do(http.MethodGet, "/b/sum.meta.json", nil, nil), http.StatusBadRequest)

	// folder markers and empty segments have no file to map to
	for _, target := range []string{"/b/folder/", "/b/a//b"} {
		w = e.do(http.MethodPut, target, nil, nil)
		e.mustStatus(t, w, http.StatusBadRequest)
		if code := errorCode(t, w.Body.Bytes()); code != "InvalidArgument" {
			t.Fatalf("%s: expected InvalidArgument, got %s", target, code)
		}
	}
}

func TestObjects_ShortBodyAborts(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)

	r := httptest.NewRequest(http.MethodPut, "/b/short", io.LimitReader(strings.NewReader("abcdef"), 3))
	r.ContentLength = 6
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, r)
	e.mustStatus(t, w, http.StatusBadRequest)
	if code := errorCode(t, w.Body.Bytes()); code != "IncompleteBody" {
		t.Fatalf("expected IncompleteBody, got %s", code)
	}
	entries, err := os.ReadDir(filepath.Join(e.root, "b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("aborted put left files behind: %v", entries)
	}
}

func TestObjects_Range(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	e.put(t, "b", "obj", data)

	w := e.do(http.MethodGet, "/b/obj", nil, map[string]string{"Range": "bytes=10-19"})
	e.mustStatus(t, w, http.StatusPartialContent)
	if got := w.Header().Get("Content-Range"); got != "bytes 10-19/100" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := w.Header().Get("Content-Length"); got != "10" {
		t.Fatalf("Content-Length = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), data[10:20]) {
		t.Fatalf("range body mismatch: %v", w.Body.Bytes())
	}

	w = e.do(http.MethodGet, "/b/obj", nil, map[string]string{"Range": "bytes=-5"})
	e.mustStatus(t, w, http.StatusPartialContent)
	if !bytes.Equal(w.Body.Bytes(), data[95:]) {
		t.Fatalf("suffix range mismatch")
	}

	w = e.do(http.MethodGet, "/b/obj", nil, map[string]string{"Range": "bytes=90-"})
	e.mustStatus(t, w, http.StatusPartialContent)
	if w.Header().Get("Content-Range") != "bytes 90-99/100" {
		t.Fatalf("open range: %q", w.Header().Get("Content-Range"))
	}

	// unsatisfiable ranges fall back to the whole object
	w = e.do(http.MethodGet, "/b/obj", nil, map[string]string{"Range": "bytes=50-100"})
	e.mustStatus(t, w, http.StatusOK)
	if w.Body.Len() != 100 {
		t.Fatalf("fallback should return the full object, got %d bytes", w.Body.Len())
	}
}

func TestObjects_StrictRange(t *testing.T) {
	e := newTestEnv(t, Options{StrictRanges: true})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)
	e.put(t, "b", "obj", make([]byte, 100))

	w := e.do(http.MethodGet, "/b/obj", nil, map[string]string{"Range": "bytes=200-300"})
	e.mustStatus(t, w, http.StatusRequestedRangeNotSatisfiable)
	if got := w.Header().Get("Content-Range"); got != "bytes */100" {
		t.Fatalf("Content-Range = %q", got)
	}
	if code := errorCode(t, w.Body.Bytes()); code != "InvalidRange" {
		t.Fatalf("expected InvalidRange, got %s", code)
	}
}

func TestObjects_Copy(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/src", nil, nil), http.StatusOK)
	e.mustStatus(t, e.do(http.MethodPut, "/dst", nil, nil), http.StatusOK)
	e.mustStatus(t, e.do(http.MethodPut, "/src/a%20b.txt", []byte("payload"),
		map[string]string{"Content-Type": "text/plain"}), http.StatusOK)

	w := e.do(http.MethodPut, "/dst/copy", nil, map[string]string{"x-amz-copy-source": "/src/a%20b.txt"})
	e.mustStatus(t, w, http.StatusOK)
	var res copyObjectResult
	if err := xml.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ETag != "\""+md5hex([]byte("payload"))+"\"" || res.LastModified == "" {
		t.Fatalf("unexpected copy result: %+v", res)
	}
	w = e.do(http.MethodGet, "/dst/copy", nil, nil)
	if w.Body.String() != "payload" || w.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("copy content: %q %v", w.Body.String(), w.Header())
	}

	// no slash means the destination bucket
	e.mustStatus(t, e.do(http.MethodPut, "/dst/copy2", nil, map[string]string{"x-amz-copy-source": "copy"}), http.StatusOK)

	w = e.do(http.MethodPut, "/dst/copy3", nil, map[string]string{"x-amz-copy-source": "src/missing"})
	e.mustStatus(t, w, http.StatusNotFound)
	if code := errorCode(t, w.Body.Bytes()); code != "NoSuchKey" {
		t.Fatalf("expected NoSuchKey, got %s", code)
	}
	w = e.do(http.MethodPut, "/dst/copy4", nil, map[string]string{"x-amz-copy-source": "/gone/obj"})
	e.mustStatus(t, w, http.StatusNotFound)
	if code := errorCode(t, w.Body.Bytes()); code != "NoSuchKey" {
		t.Fatalf("missing source bucket: expected NoSuchKey, got %s", code)
	}
	// a missing destination bucket is still NoSuchBucket
	w = e.do(http.MethodPut, "/gone/copy", nil, map[string]string{"x-amz-copy-source": "/src/a%20b.txt"})
	e.mustStatus(t, w, http.StatusNotFound)
	if code := errorCode(t, w.Body.Bytes()); code != "NoSuchBucket" {
		t.Fatalf("missing destination bucket: expected NoSuchBucket, got %s", code)
	}
}

func TestPost_NotImplemented(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)
	for _, target := range []string{"/b", "/b?delete", "/b/k", "/b/k?uploads"} {
		w := e.do(http.MethodPost, target, []byte("<Delete/>"), nil)
		e.mustStatus(t, w, http.StatusNotImplemented)
		if code := errorCode(t, w.Body.Bytes()); code != "NotImplemented" {
			t.Fatalf("%s: expected NotImplemented, got %s", target, code)
		}
	}
	e.mustStatus(t, e.do(http.MethodGet, "/b?versioning", nil, nil), http.StatusNotImplemented)
	e.mustStatus(t, e.do(http.MethodPut, "/b/k?partNumber=1&uploadId=x", []byte("x"), nil), http.StatusNotImplemented)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t, Options{})
	w := e.do(http.MethodPatch, "/b/k", nil, nil)
	e.mustStatus(t, w, http.StatusMethodNotAllowed)
	if code := errorCode(t, w.Body.Bytes()); code != "MethodNotAllowed" {
		t.Fatalf("expected MethodNotAllowed, got %s", code)
	}
}

func TestOptions_Preflight(t *testing.T) {
	e := newTestEnv(t, Options{})
	w := e.do(http.MethodOptions, "/b/k", nil, map[string]string{
		"Origin":                         "http://app.local",
		"Access-Control-Request-Method":  "PUT",
		"Access-Control-Request-Headers": "authorization,x-amz-date",
	})
	e.mustStatus(t, w, http.StatusNoContent)
	if w.Header().Get("Access-Control-Allow-Origin") != "http://app.local" ||
		w.Header().Get("Access-Control-Allow-Headers") != "authorization,x-amz-date" {
		t.Fatalf("unexpected CORS headers: %v", w.Header())
	}
}

func TestRequestIDOnErrors(t *testing.T) {
	e := newTestEnv(t, Options{})
	w := e.do(http.MethodGet, "/nope/k", nil, nil)
	id := w.Header().Get("x-amz-request-id")
	if id == "" || !strings.Contains(w.Body.String(), "<RequestId>"+id+"</RequestId>") {
		t.Fatalf("request id missing from error: header=%q body=%s", id, w.Body.String())
	}
}

func TestObjects_ConcurrentOverwrite(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.mustStatus(t, e.do(http.MethodPut, "/b", nil, nil), http.StatusOK)
	a := bytes.Repeat([]byte("a"), 64<<10)
	b := bytes.Repeat([]byte("b"), 64<<10)
	done := make(chan struct{})
	for _, body := range [][]byte{a, b, a, b} {
		go func(body []byte) {
			defer func() { done <- struct{}{} }()
			e.do(http.MethodPut, "/b/hot", body, nil)
		}(body)
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	w := e.do(http.MethodGet, "/b/hot", nil, nil)
	got := w.Body.Bytes()
	if !bytes.Equal(got, a) && !bytes.Equal(got, b) {
		t.Fatalf("object is a mixture of writers")
	}
	objs, err := e.fs.List(context.Background(), "b", "")
	if err != nil || len(objs) != 1 {
		t.Fatalf("expected exactly one object, got %v %v", objs, err)
	}
}
