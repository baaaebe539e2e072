package s3

import (
	"strconv"
	"strings"
)

// parseRange parses a single "bytes=" range against an object of total
// bytes and returns the inclusive bounds. Suffix ("-N") and open-ended
// ("N-") forms are accepted. Multiple ranges, malformed values and bounds
// outside the object report ok=false.
func parseRange(hdr string, total int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(hdr, prefix) {
		return 0, 0, false
	}
	seg := strings.TrimSpace(strings.TrimPrefix(hdr, prefix))
	if strings.Contains(seg, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(seg, "-")
	if !found {
		return 0, 0, false
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if first == "" {
		suf, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suf <= 0 || total == 0 {
			return 0, 0, false
		}
		if suf > total {
			suf = total
		}
		return total - suf, total - 1, true
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= total {
		return 0, 0, false
	}
	if last == "" {
		return start, total - 1, true
	}
	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil || end < start || end >= total {
		return 0, 0, false
	}
	return start, end, true
}
