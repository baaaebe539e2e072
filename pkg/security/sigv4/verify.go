package sigv4

import (
	"crypto/hmac"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm       = "AWS4-HMAC-SHA256"
	amzDateLayout   = "20060102T150405Z"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	maxPresignAge   = 7 * 24 * time.Hour
)

// Kind classifies an authentication failure.
type Kind int

const (
	MissingAuthorization Kind = iota + 1
	InvalidAuthorization
	InvalidAccessKeyId
	MissingHost
	SignatureDoesNotMatch
	RequestExpired
)

func (k Kind) String() string {
	switch k {
	case MissingAuthorization:
		return "MissingAuthorization"
	case InvalidAuthorization:
		return "InvalidAuthorization"
	case InvalidAccessKeyId:
		return "InvalidAccessKeyId"
	case MissingHost:
		return "MissingHost"
	case SignatureDoesNotMatch:
		return "SignatureDoesNotMatch"
	case RequestExpired:
		return "RequestExpired"
	default:
		return "Unknown"
	}
}

// AuthError is returned for every rejected request.
type AuthError struct {
	Kind Kind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "sigv4: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "sigv4: " + e.Kind.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError of the same kind, so the sentinels below work
// with errors.Is regardless of the wrapped detail.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Errors returned by the verifier.
var (
	ErrAuthMissing       = &AuthError{Kind: MissingAuthorization}
	ErrAuthInvalid       = &AuthError{Kind: InvalidAuthorization}
	ErrInvalidAccessKey  = &AuthError{Kind: InvalidAccessKeyId}
	ErrMissingHost       = &AuthError{Kind: MissingHost}
	ErrSignatureMismatch = &AuthError{Kind: SignatureDoesNotMatch}
	ErrRequestExpired    = &AuthError{Kind: RequestExpired}
)

func authErr(k Kind, format string, args ...any) error {
	return &AuthError{Kind: k, Err: fmt.Errorf(format, args...)}
}

// CredentialsStore provides a way to look up a secret key by access key.
type CredentialsStore interface {
	Lookup(accessKey string) (secret string, user string, ok bool)
}

// AccessKey represents a static access/secret key pair and optional user label.
type AccessKey struct {
	AccessKey string
	SecretKey string
	User      string
}

type secretEntry struct {
	secret string
	user   string
}

// StaticCredentialsStore is an immutable in-memory CredentialsStore.
type StaticCredentialsStore struct {
	creds map[string]secretEntry
}

// NewStaticStore builds a StaticCredentialsStore, skipping incomplete pairs.
func NewStaticStore(keys []AccessKey) *StaticCredentialsStore {
	m := make(map[string]secretEntry, len(keys))
	for _, k := range keys {
		ak := strings.TrimSpace(k.AccessKey)
		sk := strings.TrimSpace(k.SecretKey)
		if ak == "" || sk == "" {
			continue
		}
		m[ak] = secretEntry{secret: sk, user: strings.TrimSpace(k.User)}
	}
	return &StaticCredentialsStore{creds: m}
}

// Lookup implements CredentialsStore.
func (s *StaticCredentialsStore) Lookup(accessKey string) (string, string, bool) {
	if s == nil || s.creds == nil {
		return "", "", false
	}
	v, ok := s.creds[accessKey]
	if !ok {
		return "", "", false
	}
	return v.secret, v.user, true
}

// Identity is the authenticated principal of a request.
type Identity struct {
	AccessKey string
	User      string
}

// Options configures a Verifier.
type Options struct {
	Credentials CredentialsStore
	// MaxSkew bounds the distance between X-Amz-Date and the server clock for
	// header-signed requests, and how far in the future a presigned URL may be
	// dated. Zero disables the check.
	MaxSkew time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Verifier checks AWS Signature Version 4 requests, header-signed or presigned.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	creds   CredentialsStore
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier returns a Verifier for opt.
func NewVerifier(opt Options) *Verifier {
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{creds: opt.Credentials, maxSkew: opt.MaxSkew, now: now}
}

// signatureContext is everything parsed from the Authorization header or the
// presigned query parameters.
type signatureContext struct {
	accessKey     string
	date          string
	region        string
	service       string
	signedHeaders []string
	signature     string
	amzDate       string
	presigned     bool
	expires       time.Duration
}

// Verify authenticates r. Every failure is an *AuthError.
func (v *Verifier) Verify(r *http.Request) (Identity, error) {
	var (
		sc  signatureContext
		err error
	)
	if r.URL.Query().Has("X-Amz-Signature") {
		sc, err = parsePresigned(r)
	} else {
		sc, err = parseAuthorizationHeader(r)
	}
	if err != nil {
		return Identity{}, err
	}

	var (
		secret, user string
		ok           bool
	)
	if v.creds != nil {
		secret, user, ok = v.creds.Lookup(sc.accessKey)
	}
	if !ok {
		return Identity{}, authErr(InvalidAccessKeyId, "unknown access key %q", sc.accessKey)
	}
	if r.Host == "" {
		return Identity{}, ErrMissingHost
	}
	if err := v.checkTime(sc); err != nil {
		return Identity{}, err
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = unsignedPayload
	}
	canonReq, err := buildCanonicalRequest(r, sc.signedHeaders, payloadHash, sc.presigned)
	if err != nil {
		return Identity{}, authErr(SignatureDoesNotMatch, "canonical request: %v", err)
	}
	stringToSign := buildStringToSign(sc.amzDate, sc.date, sc.region, sc.service, sha256Hex([]byte(canonReq)))
	key := deriveSigningKey(secret, sc.date, sc.region, sc.service)
	want := hmacSHA256Hex(key, []byte(stringToSign))
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sc.signature))) {
		return Identity{}, ErrSignatureMismatch
	}
	return Identity{AccessKey: sc.accessKey, User: user}, nil
}

func (v *Verifier) checkTime(sc signatureContext) error {
	signedAt, err := time.Parse(amzDateLayout, sc.amzDate)
	if err != nil {
		return authErr(InvalidAuthorization, "malformed X-Amz-Date %q", sc.amzDate)
	}
	now := v.now().UTC()
	if sc.presigned && sc.expires > 0 && now.After(signedAt.Add(sc.expires)) {
		return authErr(RequestExpired, "presigned URL expired at %s", signedAt.Add(sc.expires).Format(time.RFC3339))
	}
	if v.maxSkew <= 0 {
		return nil
	}
	if sc.presigned {
		if signedAt.Sub(now) > v.maxSkew {
			return authErr(RequestExpired, "presigned URL dated in the future")
		}
		return nil
	}
	if d := now.Sub(signedAt); d > v.maxSkew || d < -v.maxSkew {
		return authErr(RequestExpired, "request time %s outside the allowed skew", signedAt.Format(time.RFC3339))
	}
	return nil
}

// parseAuthorizationHeader handles
// Authorization: AWS4-HMAC-SHA256 Credential=AK/20250101/us-east-1/s3/aws4_request, SignedHeaders=host;x-amz-date, Signature=...
func parseAuthorizationHeader(r *http.Request) (signatureContext, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return signatureContext{}, ErrAuthMissing
	}
	rest, ok := strings.CutPrefix(auth, algorithm+" ")
	if !ok {
		return signatureContext{}, authErr(InvalidAuthorization, "unsupported authorization scheme")
	}
	var cred, signed, sig string
	for _, f := range strings.Split(rest, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok {
			continue
		}
		switch k {
		case "Credential":
			cred = val
		case "SignedHeaders":
			signed = val
		case "Signature":
			sig = val
		}
	}
	if cred == "" || signed == "" || sig == "" {
		return signatureContext{}, authErr(InvalidAuthorization, "authorization header is missing a component")
	}
	sc, err := parseCredential(cred)
	if err != nil {
		return signatureContext{}, err
	}
	sc.signedHeaders = splitSignedHeaders(signed)
	sc.signature = sig

	sc.amzDate = r.Header.Get("X-Amz-Date")
	if sc.amzDate == "" {
		if d := r.Header.Get("Date"); d != "" {
			if t, err := http.ParseTime(d); err == nil {
				sc.amzDate = t.UTC().Format(amzDateLayout)
			}
		}
	}
	if sc.amzDate == "" {
		return signatureContext{}, authErr(InvalidAuthorization, "missing X-Amz-Date")
	}
	return sc, nil
}

func parsePresigned(r *http.Request) (signatureContext, error) {
	q := r.URL.Query()
	if q.Get("X-Amz-Algorithm") != algorithm {
		return signatureContext{}, authErr(InvalidAuthorization, "unsupported X-Amz-Algorithm %q", q.Get("X-Amz-Algorithm"))
	}
	sc, err := parseCredential(q.Get("X-Amz-Credential"))
	if err != nil {
		return signatureContext{}, err
	}
	sc.presigned = true
	sc.amzDate = q.Get("X-Amz-Date")
	sc.signature = q.Get("X-Amz-Signature")
	signed := q.Get("X-Amz-SignedHeaders")
	if sc.amzDate == "" || sc.signature == "" || signed == "" {
		return signatureContext{}, authErr(InvalidAuthorization, "presigned query is missing a parameter")
	}
	sc.signedHeaders = splitSignedHeaders(signed)
	if e := q.Get("X-Amz-Expires"); e != "" {
		secs, err := strconv.ParseInt(e, 10, 64)
		if err != nil || secs <= 0 || time.Duration(secs)*time.Second > maxPresignAge {
			return signatureContext{}, authErr(InvalidAuthorization, "invalid X-Amz-Expires %q", e)
		}
		sc.expires = time.Duration(secs) * time.Second
	}
	return sc, nil
}

// parseCredential splits <AKID>/<Date>/<Region>/<Service>/aws4_request.
func parseCredential(cred string) (signatureContext, error) {
	parts := strings.Split(strings.TrimSpace(cred), "/")
	if len(parts) != 5 || parts[4] != "aws4_request" {
		return signatureContext{}, authErr(InvalidAuthorization, "malformed credential scope")
	}
	for _, p := range parts[:4] {
		if p == "" {
			return signatureContext{}, authErr(InvalidAuthorization, "malformed credential scope")
		}
	}
	return signatureContext{
		accessKey: parts[0],
		date:      parts[1],
		region:    parts[2],
		service:   parts[3],
	}, nil
}

func splitSignedHeaders(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ";") {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			out = append(out, h)
		}
	}
	return out
}
