package webdav

import "fmt"

// ResultKind discriminates the outcome of a WebDAV operation.
type ResultKind int

const (
	KindSuccess ResultKind = iota
	KindHTTPError
	KindNetworkError
	KindParseError
)

// HTTPError carries the response a server returned for a request that
// did not succeed, including its body for diagnostics (some servers put
// a useful <error> element in a 403/409 response).
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
	RetryAfter string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webdav: server returned %s", e.Status)
}

// DavResult is the tagged outcome of a single WebDAV request: exactly one
// of its four kinds applies, mirroring how a caller needs to branch very
// differently on a malformed response body than on a lost connection.
type DavResult[T any] struct {
	Kind    ResultKind
	Value   T
	HTTP    *HTTPError
	NetErr  error
	ParseErr error
}

// Success builds a successful DavResult.
func Success[T any](v T) DavResult[T] {
	return DavResult[T]{Kind: KindSuccess, Value: v}
}

// HTTPErrorResult builds a DavResult carrying a non-2xx HTTP response.
func HTTPErrorResult[T any](e *HTTPError) DavResult[T] {
	return DavResult[T]{Kind: KindHTTPError, HTTP: e}
}

// NetworkErrorResult builds a DavResult carrying a transport-level
// failure (DNS, TLS, connection reset, timeout).
func NetworkErrorResult[T any](err error) DavResult[T] {
	return DavResult[T]{Kind: KindNetworkError, NetErr: err}
}

// ParseErrorResult builds a DavResult carrying a response body the
// client could not interpret despite a successful HTTP exchange.
func ParseErrorResult[T any](err error) DavResult[T] {
	return DavResult[T]{Kind: KindParseError, ParseErr: err}
}

// Ok reports whether the result is a success.
func (r DavResult[T]) Ok() bool { return r.Kind == KindSuccess }

// Err returns a single error representing any non-success outcome, or
// nil on success, for callers that just want idiomatic error handling.
func (r DavResult[T]) Err() error {
	switch r.Kind {
	case KindSuccess:
		return nil
	case KindHTTPError:
		return r.HTTP
	case KindNetworkError:
		return r.NetErr
	case KindParseError:
		return r.ParseErr
	default:
		return fmt.Errorf("webdav: unknown result kind %d", r.Kind)
	}
}
