package vector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrTransient = errors.New("transient vector store error")
	ErrFatal     = errors.New("fatal vector store error")

	ErrSchemaMismatch     = errors.New("collection schema mismatch")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidCollection  = errors.New("invalid collection name")
	ErrInvalidDimensions  = errors.New("invalid vector dimensions")
	ErrUnsupportedMetric  = errors.New("unsupported distance metric")
	ErrUnsupportedFilter  = errors.New("unsupported filter")
	ErrMalformedQuery     = errors.New("malformed query")
)

type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindTransient
)

func (k ErrorKind) String() string {
	if k == KindTransient {
		return "transient"
	}

	return "fatal"
}

// Error is a classified vector store failure. Only transient errors are
// worth retrying.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vector %s (%s, status=%d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("vector %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrFatal:
		return e.Kind == KindFatal
	}

	return false
}

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Classify turns a raw transport error into a classified one. Errors that
// are already classified pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return Fatal(op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(op, err)
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return Transient(op, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient(op, err)
	}

	return Fatal(op, err)
}

// ClassifyStatus maps an HTTP status returned by the store.
func ClassifyStatus(op string, status int, err error) error {
	kind := KindFatal
	switch {
	case status == 408, status == 429, status >= 500:
		kind = KindTransient
	}

	return &Error{Kind: kind, Op: op, StatusCode: status, Err: err}
}
