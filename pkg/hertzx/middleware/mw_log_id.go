package middleware

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"github.com/hatcher/agentcore/pkg/logs"
)

const LogIDHeader = "X-Log-ID"

func SetLogIdMW() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		logID := string(c.GetHeader(LogIDHeader))
		if logID == "" {
			logID = uuid.New().String()
		}
		ctx = logs.WithLogID(ctx, logID)

		c.Header(LogIDHeader, logID)
		c.Next(ctx)
	}
}
