// Package s3 implements the S3 REST surface of the gateway: bucket and object
// handlers, ListObjectsV2 pagination and the XML documents they return.
//
// Authentication is not performed here. The handler returned by
// Server.Handler is meant to sit behind the sigv4 interceptor chain, which
// rejects unauthenticated requests before any storage access.
package s3
