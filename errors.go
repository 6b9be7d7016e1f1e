package dirstore

import "errors"

// Sentinel errors returned by store operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, dirstore.ErrLockTimeout) {
//	    // another process held the collection too long
//	}
var (
	// ErrClosed indicates the [Store] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("dirstore: closed")

	// ErrShape indicates an operation that does not match the collection's
	// shape, such as an id lookup on a map collection or a keyed set on a
	// list collection.
	//
	// A collection's shape is fixed by its file content or by the first
	// mutating operation and never changes silently.
	//
	// Recovery: use the operations matching the collection's shape, or drop
	// the collection and recreate it.
	ErrShape = errors.New("dirstore: shape mismatch")

	// ErrPath indicates a malformed path: empty, or containing an empty
	// segment such as "a..b".
	//
	// This is a programming error.
	ErrPath = errors.New("dirstore: invalid path")

	// ErrPathType indicates a deep-path operation whose target has an
	// incompatible type, such as a push onto a value that is not a list or
	// descending through a scalar.
	//
	// Values are never coerced to fit a path operation.
	ErrPathType = errors.New("dirstore: path type mismatch")

	// ErrLockTimeout indicates the cross-process advisory lock could not be
	// acquired within [Config.LockTimeout].
	//
	// Recovery: retry later, or investigate the holder recorded in the
	// sentinel file.
	ErrLockTimeout = errors.New("dirstore: lock timeout")

	// ErrName indicates an invalid collection name. Names must be non-empty
	// and contain only letters, digits, underscores, and hyphens.
	//
	// This is a programming error.
	ErrName = errors.New("dirstore: invalid collection name")
)
