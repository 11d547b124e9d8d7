package device

import "github.com/PatrickBaus/data-logger/internal/errors"

const (
	// Configuration errors
	ErrUnknownDriver = errors.ErrorCode("device_unknown_driver")
	ErrInvalidConfig = errors.ErrorCode("device_invalid_config")

	// Connection errors, unrecoverable within a sampling session
	ErrConnectionFailed = errors.ErrorCode("device_connection_failed")
	ErrConnectionLost   = errors.ErrorCode("device_connection_lost")
	ErrNotConnected     = errors.ErrorCode("device_not_connected")

	// Read errors, recoverable by retrying the next round
	ErrReadTimeout = errors.ErrorCode("device_read_timeout")
	ErrInvalidData = errors.ErrorCode("device_invalid_data")
)

// IsRecoverable reports whether a read error only spoils the current round.
// The sampler logs these and retries on the next round. A read timeout is
// always recoverable, a lost connection never is.
func IsRecoverable(err error) bool {
	switch errors.CodeOf(err) {
	case ErrReadTimeout, ErrInvalidData:
		return true
	default:
		return false
	}
}

// IsConnectionError reports whether the error means the device transport is
// gone and the whole sampling session must be restarted.
func IsConnectionError(err error) bool {
	switch errors.CodeOf(err) {
	case ErrConnectionFailed, ErrConnectionLost, ErrNotConnected:
		return true
	default:
		return false
	}
}
