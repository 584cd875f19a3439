package safego

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hatcher/agentcore/pkg/logs"
)

// Recovery 捕获panic
func Recovery(ctx context.Context) {
	e := recover()
	if e == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logs.CtxErrorf(ctx, "[Recovery] catch panic error = %v \n stacktrace = \n%s", e, string(debug.Stack()))
}

// RecoverAsError 捕获panic并转换为 error，用于需要把 panic 作为失败结果返回的场景
func RecoverAsError(ctx context.Context, errp *error) {
	e := recover()
	if e == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logs.CtxErrorf(ctx, "[Recovery] catch panic error = %v \n stacktrace = \n%s", e, string(debug.Stack()))
	if errp != nil {
		*errp = fmt.Errorf("panic: %v", e)
	}
}
