package sink

import "github.com/PatrickBaus/data-logger/internal/errors"

const (
	// Configuration errors
	ErrUnknownDriver = errors.ErrorCode("sink_unknown_driver")
	ErrInvalidConfig = errors.ErrorCode("sink_invalid_config")

	// File errors
	ErrOpenFailed  = errors.ErrorCode("sink_open_failed")
	ErrWriteFailed = errors.ErrorCode("sink_write_failed")

	// Transport errors, retried by the broker workers
	ErrBrokerUnreachable    = errors.ErrorCode("sink_broker_unreachable")
	ErrConnectionRefused    = errors.ErrorCode("sink_connection_refused")
	ErrNameResolutionFailed = errors.ErrorCode("sink_name_resolution_failed")
	ErrPublishFailed        = errors.ErrorCode("sink_publish_failed")

	// The only deliberate data-loss path: an item that cannot be serialized
	// is dropped, since retrying cannot help.
	ErrPayloadInvalid = errors.ErrorCode("sink_payload_invalid")

	// Storage errors
	ErrStorageInit       = errors.ErrorCode("sink_storage_init_failed")
	ErrStorageClose      = errors.ErrorCode("sink_storage_close_failed")
	ErrTransactionFailed = errors.ErrorCode("sink_transaction_failed")

	// Shutdown errors
	ErrDrainTimeout = errors.ErrorCode("sink_drain_timeout")
)
