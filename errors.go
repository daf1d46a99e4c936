package fieldsync

import (
	"errors"
	"fmt"
)

// Common errors returned by the fieldsync client.
var (
	// ErrNotFound is returned when a record is not found in a collection.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStoreUnavailable is returned when the local store could not be
	// opened and the client runs online-only.
	ErrStoreUnavailable = errors.New("local store unavailable")

	// ErrInvalidEntity is returned when an unknown entity collection is used.
	ErrInvalidEntity = errors.New("invalid entity collection")

	// ErrInvalidOperation is returned when a queue operation is not one of
	// create, update, delete.
	ErrInvalidOperation = errors.New("invalid queue operation")

	// ErrUnknownIndex is returned when GetByIndex names an index the entity
	// does not declare.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrOffline is returned when a network operation is attempted while
	// no gateway is configured.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrClientClosed is returned when operating on a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SyncError describes the failed delivery of a single queue item.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Entity    Entity
	Operation Operation
	EntityID  string
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: %s %s %s: %v", e.Operation, e.Entity, e.EntityID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// permanentError marks a gateway failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the sync engine drops the item immediately
// instead of spending its retry budget on it. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or an error it wraps) was marked
// with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
