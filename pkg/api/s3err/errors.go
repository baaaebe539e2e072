// Package s3err holds the stable S3 error tokens the gateway returns and the
// XML envelope they are rendered in.
package s3err

import (
	"encoding/xml"
	"errors"
	"net/http"

	"github.com/kushalthaman/3fs3/pkg/metadata"
	"github.com/kushalthaman/3fs3/pkg/security/sigv4"
	"github.com/kushalthaman/3fs3/pkg/storage"
)

// APIError is an S3 error code with its HTTP status.
type APIError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e APIError) Error() string {
	return e.Code + ": " + e.Message
}

var (
	AccessDenied            = APIError{Code: "AccessDenied", Message: "Access Denied", StatusCode: http.StatusForbidden}
	RequestExpired          = APIError{Code: "AccessDenied", Message: "Request has expired", StatusCode: http.StatusForbidden}
	InvalidAccessKeyID      = APIError{Code: "InvalidAccessKeyId", Message: "The AWS Access Key Id you provided does not exist in our records.", StatusCode: http.StatusForbidden}
	SignatureDoesNotMatch   = APIError{Code: "SignatureDoesNotMatch", Message: "The request signature we calculated does not match the signature you provided.", StatusCode: http.StatusForbidden}
	NoSuchBucket            = APIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist.", StatusCode: http.StatusNotFound}
	NoSuchKey               = APIError{Code: "NoSuchKey", Message: "The specified key does not exist.", StatusCode: http.StatusNotFound}
	BucketAlreadyOwnedByYou = APIError{Code: "BucketAlreadyOwnedByYou", Message: "Your previous request to create the named bucket succeeded and you already own it.", StatusCode: http.StatusConflict}
	BucketNotEmpty          = APIError{Code: "BucketNotEmpty", Message: "The bucket you tried to delete is not empty.", StatusCode: http.StatusConflict}
	InvalidBucketName       = APIError{Code: "InvalidBucketName", Message: "The specified bucket is not valid.", StatusCode: http.StatusBadRequest}
	InvalidArgument         = APIError{Code: "InvalidArgument", Message: "Invalid Argument", StatusCode: http.StatusBadRequest}
	InvalidObjectKey        = APIError{Code: "InvalidArgument", Message: "The specified object key is not valid.", StatusCode: http.StatusBadRequest}
	IncompleteBody          = APIError{Code: "IncompleteBody", Message: "You did not provide the number of bytes specified by the Content-Length HTTP header.", StatusCode: http.StatusBadRequest}
	EntityTooLarge          = APIError{Code: "EntityTooLarge", Message: "Your proposed upload exceeds the maximum allowed object size.", StatusCode: http.StatusBadRequest}
	ContentSHA256Mismatch   = APIError{Code: "XAmzContentSHA256Mismatch", Message: "The provided 'x-amz-content-sha256' header does not match what was computed.", StatusCode: http.StatusBadRequest}
	InvalidRange            = APIError{Code: "InvalidRange", Message: "The requested range is not satisfiable.", StatusCode: http.StatusRequestedRangeNotSatisfiable}
	MethodNotAllowed        = APIError{Code: "MethodNotAllowed", Message: "The specified method is not allowed against this resource.", StatusCode: http.StatusMethodNotAllowed}
	NotImplemented          = APIError{Code: "NotImplemented", Message: "A header or operation you provided implies functionality that is not implemented.", StatusCode: http.StatusNotImplemented}
	InternalError           = APIError{Code: "InternalError", Message: "We encountered an internal error. Please try again.", StatusCode: http.StatusInternalServerError}
)

type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId"`
}

// Write renders apiErr as an S3 Error document. HEAD responses carry the
// status only.
func Write(w http.ResponseWriter, r *http.Request, requestID string, apiErr APIError, resource string) {
	if r != nil && r.Method == http.MethodHead {
		w.WriteHeader(apiErr.StatusCode)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(apiErr.StatusCode)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(errorResponse{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Resource:  resource,
		RequestID: requestID,
	})
}

// MapError converts an internal error to the S3 error it is reported as.
// Anything unrecognized is an InternalError.
func MapError(err error) APIError {
	var apiErr APIError
	var ae *sigv4.AuthError
	switch {
	case err == nil:
		return InternalError
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &ae):
		return mapAuth(ae)
	case errors.Is(err, storage.ErrNoSuchBucket), errors.Is(err, metadata.ErrBucketNotFound):
		return NoSuchBucket
	case errors.Is(err, storage.ErrNoSuchKey):
		return NoSuchKey
	case errors.Is(err, metadata.ErrBucketExists):
		return BucketAlreadyOwnedByYou
	case errors.Is(err, metadata.ErrBucketNotEmpty):
		return BucketNotEmpty
	case errors.Is(err, storage.ErrInvalidBucketName):
		return InvalidBucketName
	case errors.Is(err, storage.ErrInvalidKey):
		return InvalidObjectKey
	default:
		return InternalError
	}
}

func mapAuth(ae *sigv4.AuthError) APIError {
	switch ae.Kind {
	case sigv4.InvalidAccessKeyId:
		return InvalidAccessKeyID
	case sigv4.SignatureDoesNotMatch:
		return SignatureDoesNotMatch
	case sigv4.RequestExpired:
		return RequestExpired
	default:
		return AccessDenied
	}
}
