package dispatch

import "errors"

var (
	ErrStopped        = errors.New("dispatch engine stopped")
	ErrUnknownAccount = errors.New("account not set up")
	ErrAccountExists  = errors.New("account already set up")
	ErrQueueFull      = errors.New("dispatch queue full")

	// ErrWebhookActive is the usage error for pulling updates while the
	// account is in webhook mode. It is the only error category that
	// propagates out of the engine for a delivery-path operation.
	ErrWebhookActive = errors.New("getUpdates is unavailable while a webhook is active")
)
