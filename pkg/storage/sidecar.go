package storage

import (
	jsoniter "github.com/json-iterator/go"
)

// MetaSuffix is appended to a data file path to form its sidecar path.
const MetaSuffix = ".meta.json"

// DefaultContentType is reported when neither the request nor the sidecar names one.
const DefaultContentType = "application/octet-stream"

// Meta is the sidecar document stored next to each object. The ETag keeps its
// surrounding quotes so it can be echoed verbatim.
type Meta struct {
	ETag        string `json:"etag"`
	ContentType string `json:"content_type"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func encodeMeta(m Meta) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMeta(b []byte) (Meta, error) {
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}
