// Package rest is the transport-neutral request/response surface the
// frontend works against.
package rest

import (
	"context"

	"github.com/jacktea/blobfront/pkg/stream"
)

// Method is a request verb.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodHead   Method = "HEAD"
	MethodDelete Method = "DELETE"
)

// Standard header names.
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderContentRange  = "Content-Range"
	HeaderAcceptRanges  = "Accept-Ranges"
	HeaderRange         = "Range"
	HeaderDate          = "Date"
	HeaderLastModified  = "Last-Modified"
	HeaderLocation      = "Location"
)

// Blob header names. Lookups are case-insensitive.
const (
	HeaderBlobSize        = "x-blob-size"
	HeaderBlobTTL         = "x-blob-ttl"
	HeaderBlobPrivate     = "x-blob-private"
	HeaderBlobServiceID   = "x-blob-service-id"
	HeaderBlobContentType = "x-blob-content-type"
	HeaderBlobOwnerID     = "x-blob-owner-id"
	HeaderCreationTime    = "x-blob-creation-time"
	// UserMetadataPrefix marks headers that are stored verbatim with a blob.
	UserMetadataPrefix = "x-blob-um-"
)

// Header is one request header.
type Header struct {
	Name  string
	Value string
}

// Request is an inbound request. Its content, if any, is read through the
// embedded ReadableStream; closing the request releases the content too.
type Request interface {
	stream.ReadableStream
	Context() context.Context
	Method() Method
	// Path is the raw request path, starting with "/".
	Path() string
	// Header returns the first value of name.
	Header(name string) (string, bool)
	// Headers lists all headers in request order.
	Headers() []Header
}

// ResponseChannel is where a response is written. Status and headers must
// be set before the first body write.
type ResponseChannel interface {
	stream.WritableStream
	SetStatus(status int) error
	Status() int
	SetHeader(name, value string) error
	GetHeader(name string) string
	// OnResponseComplete finishes the response. A non-nil err replaces
	// whatever was not yet sent with an error response.
	OnResponseComplete(err error)
}

// ResponseHandler accepts finished responses for transmission. A nil error
// means the handler took ownership of req and content and will close both.
type ResponseHandler interface {
	HandleResponse(req Request, ch ResponseChannel, content stream.ReadableStream, err error) error
}
