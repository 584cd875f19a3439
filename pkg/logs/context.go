package logs

import (
	"context"
	"strings"
)

type ctxKey string

const (
	logIDKey     ctxKey = "log-id"
	sessionIDKey ctxKey = "session-id"
)

// WithLogID 在上下文中记录请求的 log-id
func WithLogID(ctx context.Context, logID string) context.Context {
	return context.WithValue(ctx, logIDKey, logID)
}

// WithSessionID 在上下文中记录会话 id，Ctx* 日志会自动带上
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// LogID 获取上下文中的 log-id
func LogID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(logIDKey).(string)
	return v
}

func ctxPrefix(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	var sb strings.Builder
	for _, k := range []ctxKey{logIDKey, sessionIDKey} {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			sb.WriteString("[")
			sb.WriteString(string(k))
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("] ")
		}
	}
	return sb.String()
}
