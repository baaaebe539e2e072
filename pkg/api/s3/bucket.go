package s3

import (
	"net/http"

	"github.com/kushalthaman/3fs3/pkg/api/s3err"
	"github.com/kushalthaman/3fs3/pkg/security/sigv4"
)

// unsupportedBucketQueries are bucket sub-resources the gateway does not
// implement. Requests naming one get 501 rather than a misleading listing.
var unsupportedBucketQueries = []string{
	"acl", "cors", "encryption", "lifecycle", "logging", "notification",
	"object-lock", "policy", "replication", "tagging", "uploads",
	"versioning", "versions", "website", "delete",
}

func hasAnyQuery(r *http.Request, names []string) bool {
	q := r.URL.Query()
	for _, n := range names {
		if q.Has(n) {
			return true
		}
	}
	return false
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	bs, err := s.buckets.ListBuckets(r.Context())
	if err != nil {
		s.fail(w, r, err, "/")
		return
	}
	own := owner{ID: "anonymous", DisplayName: "anonymous"}
	if id, ok := sigv4.IdentityFrom(r.Context()); ok {
		own = owner{ID: id.AccessKey, DisplayName: id.User}
		if own.DisplayName == "" {
			own.DisplayName = id.AccessKey
		}
	}
	res := listAllMyBucketsResult{Owner: own, Buckets: make([]bucketEntry, 0, len(bs))}
	for _, b := range bs {
		res.Buckets = append(res.Buckets, bucketEntry{
			Name:         b.Name,
			CreationDate: formatXMLTime(b.CreationDate),
		})
	}
	writeXML(w, http.StatusOK, "ListAllMyBucketsResult", res)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	name, _ := splitPath(r)
	res := resourceOf(name, "")
	if hasAnyQuery(r, unsupportedBucketQueries) {
		s.writeError(w, r, s3err.NotImplemented, res)
		return
	}
	if s.strictBucketNames && !isValidBucketName(name) {
		s.writeError(w, r, s3err.InvalidBucketName, res)
		return
	}
	if err := s.buckets.CreateBucket(r.Context(), name); err != nil {
		s.fail(w, r, err, res)
		return
	}
	s.log.Info("s3: bucket created", "bucket", name)
	w.Header().Set("Location", res)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHeadBucket(w http.ResponseWriter, r *http.Request) {
	name, _ := splitPath(r)
	ok, err := s.buckets.BucketExists(r.Context(), name)
	if err != nil {
		s.fail(w, r, err, resourceOf(name, ""))
		return
	}
	if !ok {
		s.writeError(w, r, s3err.NoSuchBucket, resourceOf(name, ""))
		return
	}
	w.Header().Set("x-amz-bucket-region", s.region)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	name, _ := splitPath(r)
	res := resourceOf(name, "")
	if hasAnyQuery(r, unsupportedBucketQueries) {
		s.writeError(w, r, s3err.NotImplemented, res)
		return
	}
	if err := s.buckets.DeleteBucket(r.Context(), name); err != nil {
		s.fail(w, r, err, res)
		return
	}
	s.log.Info("s3: bucket deleted", "bucket", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetBucket serves GetBucketLocation and ListObjectsV2. Any other
// plain GET on a bucket is treated as a listing.
func (s *Server) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	name, _ := splitPath(r)
	res := resourceOf(name, "")
	q := r.URL.Query()
	switch {
	case q.Has("location"):
		s.handleGetBucketLocation(w, r, name)
		return
	case hasAnyQuery(r, unsupportedBucketQueries):
		s.writeError(w, r, s3err.NotImplemented, res)
		return
	}

	lq, ok := parseListQuery(q)
	if !ok {
		s.writeError(w, r, s3err.InvalidArgument, res)
		return
	}
	objs, err := s.objs.List(r.Context(), name, lq.prefix)
	if err != nil {
		s.fail(w, r, err, res)
		return
	}
	page := paginate(objs, lq)

	enc := func(v string) string { return v }
	if lq.encodingType == "url" {
		enc = s3EncodeName
	}
	out := listBucketResultV2{
		Name:                  name,
		Prefix:                enc(lq.prefix),
		Delimiter:             enc(lq.delimiter),
		StartAfter:            enc(lq.startAfter),
		ContinuationToken:     lq.token,
		NextContinuationToken: page.next,
		KeyCount:              len(page.contents) + len(page.prefixes),
		MaxKeys:               lq.maxKeys,
		EncodingType:          lq.encodingType,
		IsTruncated:           page.truncated,
	}
	for _, o := range page.contents {
		e := objectEntry{
			Key:          enc(o.Key),
			LastModified: formatXMLTime(o.LastModified),
			Size:         o.Size,
			StorageClass: "STANDARD",
		}
		if m, err := s.objs.ReadMeta(r.Context(), name, o.Key); err == nil && m.ETag != "" {
			e.ETag = quoteETag(m.ETag)
		}
		out.Contents = append(out.Contents, e)
	}
	for _, p := range page.prefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, commonPrefix{Prefix: enc(p)})
	}
	writeXML(w, http.StatusOK, "ListBucketResult", out)
}

func (s *Server) handleGetBucketLocation(w http.ResponseWriter, r *http.Request, name string) {
	ok, err := s.buckets.BucketExists(r.Context(), name)
	if err != nil {
		s.fail(w, r, err, resourceOf(name, ""))
		return
	}
	if !ok {
		s.writeError(w, r, s3err.NoSuchBucket, resourceOf(name, ""))
		return
	}
	writeXML(w, http.StatusOK, "LocationConstraint", locationConstraint{Region: s.region})
}

// isValidBucketName applies the S3 naming rules: 3 to 63 characters of
// lowercase letters, digits, dots and hyphens, starting and ending with a
// letter or digit, with no adjacent dots.
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		if c == '.' && i > 0 && name[i-1] != '.' {
			continue
		}
		return false
	}
	alnum := func(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') }
	return alnum(name[0]) && alnum(name[len(name)-1])
}
