// Package kvstore implements the scoped key-value stores that back the event
// logs, identity tokens and consent flag.
package kvstore

import "errors"

// ErrQuotaExceeded is returned when a value is larger than the store allows.
var ErrQuotaExceeded = errors.New("kvstore: quota exceeded")
