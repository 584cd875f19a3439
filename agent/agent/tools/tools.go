package tools

import "context"

type (
	sessionIDContextKey string
	messageIDContextKey string
)

const (
	// SessionIDContextKey is the key for the session ID in the context.
	SessionIDContextKey sessionIDContextKey = "session_id"
	// MessageIDContextKey is the key for the message ID in the context.
	MessageIDContextKey messageIDContextKey = "message_id"
)

// WithRun attaches the session and assistant message a tool call belongs to.
func WithRun(ctx context.Context, sessionID, messageID string) context.Context {
	ctx = context.WithValue(ctx, SessionIDContextKey, sessionID)
	return context.WithValue(ctx, MessageIDContextKey, messageID)
}

// GetSessionFromContext retrieves the session ID from the context.
func GetSessionFromContext(ctx context.Context) string {
	s, _ := ctx.Value(SessionIDContextKey).(string)
	return s
}

// GetMessageFromContext retrieves the message ID from the context.
func GetMessageFromContext(ctx context.Context) string {
	s, _ := ctx.Value(MessageIDContextKey).(string)
	return s
}
