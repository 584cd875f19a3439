package agent

import "errors"

var (
	ErrRequestCancelled = errors.New("request canceled by user")
	ErrSessionBusy      = errors.New("session is currently processing another request")
	ErrEmptyPrompt      = errors.New("prompt is empty")
	ErrSessionMissing   = errors.New("session not found")
	ErrInvalidSession   = errors.New("invalid session")
	ErrStreamTruncated  = errors.New("model stream ended without finish")
	ErrMissingUsage     = errors.New("model finished without reporting usage")
)
