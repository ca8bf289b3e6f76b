package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/topology"
)

var (
	// ErrConfiguration is returned at construction for conflicting or missing
	// settings and malformed connection locations.
	ErrConfiguration = errors.New("cache: invalid configuration")
	// ErrInvalidKey is returned when a normalized key fails validation.
	ErrInvalidKey = errors.New("cache: invalid key")
	// ErrConnectivity is returned when the store stayed unreachable for the
	// whole reconnection budget.
	ErrConnectivity = errors.New("cache: could not reach mongodb")
	// ErrNotFound is returned by Incr and Decr when no live entry exists.
	ErrNotFound = errors.New("cache: key not found")
	// ErrNotNumeric is returned by Incr and Decr when the stored value cannot
	// be incremented.
	ErrNotNumeric = errors.New("cache: value is not numeric")
)

var (
	// errTransient marks connectivity failures worth another attempt.
	errTransient = errors.New("transient store error")
	// errOperation marks store operation failures and execution timeouts.
	errOperation = errors.New("store operation failed")
	// errTypeMismatch marks a $inc applied to a non-numeric field.
	errTypeMismatch = errors.New("type mismatch")
	// errSizeChange marks an update that would resize a document in a
	// capped collection.
	errSizeChange = errors.New("capped document size change")
)

const (
	// codeTypeMismatch is the server code for $inc on a non-numeric field.
	codeTypeMismatch = 14
	// codeNamespaceExists is returned when creating a collection that exists.
	codeNamespaceExists = 48
	// codeCappedSizeChange is CannotGrowDocumentInCappedNamespace.
	codeCappedSizeChange = 10003
)

var transientLabels = []string{"RetryableWriteError", "TransientTransactionError"}

// classify marks a driver error so the engine can decide between retrying,
// degrading to a false result or propagating.
func classify(err error) error {
	if err == nil {
		return nil
	}
	// server selection wraps the context error of the attempt that gave up
	if isUnreachable(err) {
		return errors.Mark(err, errTransient)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(err, errOperation)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, label := range transientLabels {
			if se.HasErrorLabel(label) {
				return errors.Mark(err, errTransient)
			}
		}
		if se.HasErrorCode(codeTypeMismatch) {
			return errors.Mark(errors.Mark(err, errTypeMismatch), errOperation)
		}
		if se.HasErrorCode(codeCappedSizeChange) {
			return errors.Mark(errors.Mark(err, errSizeChange), errOperation)
		}
		return errors.Mark(err, errOperation)
	}
	if mongo.IsTimeout(err) {
		return errors.Mark(err, errOperation)
	}
	return err
}

// isUnreachable reports driver errors meaning no server could be used:
// failed server selection, a disconnected client or a network error.
func isUnreachable(err error) bool {
	var selection topology.ServerSelectionError
	return errors.As(err, &selection) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		mongo.IsNetworkError(err)
}

// isNamespaceExists reports a create that lost the race to another client.
func isNamespaceExists(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(codeNamespaceExists)
}

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func isOperationFailure(err error) bool {
	return errors.Is(err, errOperation)
}
