package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hatcher/agentcore/pkg/logs"
)

const maxBodyLog = 2 * 1024

var eventStream = []byte("text/event-stream")

// AccessLogMW 访问日志，SSE 响应只记录状态与耗时
func AccessLogMW() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)

		status := ctx.Response.StatusCode()
		line := []interface{}{
			string(ctx.Request.Header.Method()),
			string(ctx.Request.URI().PathOriginal()),
			status,
			time.Since(start),
			ctx.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logs.CtxErrorf(c, "| %s %s | %d | %v | %s", line...)
		case status >= http.StatusBadRequest:
			logs.CtxWarnf(c, "| %s %s | %d | %v | %s | %s", append(line, truncate(ctx.Response.Body()))...)
		default:
			logs.CtxInfof(c, "| %s %s | %d | %v | %s", line...)
			if !bytes.HasPrefix(ctx.Response.Header.ContentType(), eventStream) {
				logs.CtxDebugf(c, "query: %s\nreq: %s\nresp: %s",
					ctx.Request.URI().QueryString(), truncate(ctx.Request.Body()), truncate(ctx.Response.Body()))
			}
		}
	}
}

func truncate(b []byte) string {
	if len(b) > maxBodyLog {
		b = b[:maxBodyLog]
	}
	return string(b)
}
