package s3

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/kushalthaman/3fs3/pkg/storage"
)

const (
	defaultMaxKeys = 1000
	maxKeysCap     = 1000
)

type listQuery struct {
	prefix       string
	delimiter    string
	startAfter   string
	token        string
	maxKeys      int
	encodingType string
}

// parseListQuery reads ListObjectsV2 parameters. Version 1 clients get the
// same result shape; their marker is treated as start-after.
func parseListQuery(q url.Values) (listQuery, bool) {
	lq := listQuery{
		prefix:       q.Get("prefix"),
		delimiter:    q.Get("delimiter"),
		startAfter:   q.Get("start-after"),
		token:        q.Get("continuation-token"),
		maxKeys:      defaultMaxKeys,
		encodingType: q.Get("encoding-type"),
	}
	if lq.startAfter == "" {
		lq.startAfter = q.Get("marker")
	}
	if lq.encodingType != "" && lq.encodingType != "url" {
		return lq, false
	}
	if v := q.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return lq, false
		}
		lq.maxKeys = min(n, maxKeysCap)
	}
	return lq, true
}

type listPage struct {
	contents  []storage.ObjectInfo
	prefixes  []string
	truncated bool
	next      string
}

// paginate selects one page from objs, which must be sorted by key and
// already restricted to the prefix. Keys are taken strictly after the
// continuation token, or after start-after when no token is given. Keys
// containing the delimiter past the prefix collapse into a common prefix;
// only Contents count toward maxKeys.
func paginate(objs []storage.ObjectInfo, q listQuery) listPage {
	marker := q.token
	if marker == "" {
		marker = q.startAfter
	}
	var page listPage
	if q.maxKeys == 0 {
		return page
	}
	seen := make(map[string]struct{})
	i := 0
	for ; i < len(objs); i++ {
		key := objs[i].Key
		if !strings.HasPrefix(key, q.prefix) || key <= marker {
			continue
		}
		if cp, ok := commonPrefixOf(key, q.prefix, q.delimiter); ok {
			if _, dup := seen[cp]; !dup {
				seen[cp] = struct{}{}
				page.prefixes = append(page.prefixes, cp)
			}
			continue
		}
		page.contents = append(page.contents, objs[i])
		if len(page.contents) == q.maxKeys {
			i++
			break
		}
	}
	if len(page.contents) < q.maxKeys {
		return page
	}
	// truncated only if something new would appear on the next page
	for ; i < len(objs); i++ {
		key := objs[i].Key
		if !strings.HasPrefix(key, q.prefix) {
			continue
		}
		if cp, ok := commonPrefixOf(key, q.prefix, q.delimiter); ok {
			if _, dup := seen[cp]; dup {
				continue
			}
		}
		page.truncated = true
		page.next = page.contents[len(page.contents)-1].Key
		break
	}
	return page
}

// commonPrefixOf returns the key prefix through the first delimiter after
// prefix.
func commonPrefixOf(key, prefix, delimiter string) (string, bool) {
	if delimiter == "" {
		return "", false
	}
	rest := key[len(prefix):]
	idx := strings.Index(rest, delimiter)
	if idx < 0 {
		return "", false
	}
	return prefix + rest[:idx+len(delimiter)], true
}

// s3EncodeName percent-encodes s for encoding-type=url responses. Slashes
// are kept so clients can still split the result.
func s3EncodeName(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}
