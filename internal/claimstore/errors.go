package claimstore

import (
	"errors"
	"fmt"
)

var (
	// ErrProfileRequired means the caller has no display name yet. The UI
	// should ask for profile setup before claiming.
	ErrProfileRequired = errors.New("claimstore: display name required")

	// ErrSignedOut is returned by write operations without an identity.
	ErrSignedOut = errors.New("claimstore: not signed in")

	// ErrSubscriptionEnded is wrapped in a SyncError when the backend closes
	// the snapshot feed for good.
	ErrSubscriptionEnded = errors.New("claimstore: subscription ended")
)

// WriteError is a rejected claim write or delete. Nothing local changed;
// the caller may retry.
type WriteError struct {
	Op  string // "set", "clear" or "refresh"
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("claimstore: %s claim failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SyncError is an interruption of the snapshot subscription. A transport
// error never ends the subscription by itself; ErrSubscriptionEnded means
// the backend already did.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("claimstore: sync transport: %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
