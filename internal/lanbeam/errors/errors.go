package errors

import (
	"errors"
)

var (
	ErrFinished        = errors.New("No file transfer needed")
	ErrInvalidBody     = errors.New("Invalid body")
	ErrRejected        = errors.New("Rejected")
	ErrInvalidPIN      = errors.New("Invalid PIN")
	ErrBlockedByOthers = errors.New("Blocked by another session")
	ErrNotFound        = errors.New("Not found")
	ErrTooManyReq      = errors.New("Too many requests")
	ErrFileIO          = errors.New("File IO")
	ErrChecksum        = errors.New("sha256 mismatch")
	ErrUnknown         = errors.New("Unknown error")
)

// ParseError maps an HTTP status from a peer to a sentinel error.
func ParseError(status int) error {
	switch status {
	case 200:
		return nil
	case 204:
		return ErrFinished
	case 400:
		return ErrInvalidBody
	case 401:
		return ErrInvalidPIN
	case 403:
		return ErrRejected
	case 404:
		return ErrNotFound
	case 409:
		return ErrBlockedByOthers
	case 429:
		return ErrTooManyReq
	default:
		return ErrUnknown
	}
}

// Status is the inverse of ParseError, for handlers replying with a
// sentinel error.
func Status(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrFinished):
		return 204
	case errors.Is(err, ErrInvalidBody):
		return 400
	case errors.Is(err, ErrInvalidPIN):
		return 401
	case errors.Is(err, ErrRejected):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrBlockedByOthers):
		return 409
	case errors.Is(err, ErrTooManyReq):
		return 429
	default:
		return 500
	}
}
