package storage

import "errors"

var (
	ErrNoSuchBucket      = errors.New("storage: no such bucket")
	ErrNoSuchKey         = errors.New("storage: no such key")
	ErrInvalidKey        = errors.New("storage: invalid object key")
	ErrInvalidBucketName = errors.New("storage: invalid bucket name")
	ErrNotFound          = errors.New("storage: not found")
	ErrSinkClosed        = errors.New("storage: sink already committed or aborted")
)
