package logs

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type Output string

const (
	Stdout Output = "stdout"
	Stderr Output = "stderr"
	File   Output = "file"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[string]Level{
	"DEBUG": LevelDebug,
	"INFO":  LevelInfo,
	"WARN":  LevelWarn,
	"ERROR": LevelError,
	"FATAL": LevelFatal,
}

// GetLevel 解析日志级别，无法识别时为 info
func GetLevel(level string) Level {
	if lv, ok := levelNames[strings.ToUpper(level)]; ok {
		return lv
	}
	return LevelInfo
}

func (lv Level) String() string {
	switch lv {
	case LevelDebug:
		return "[DEBUG] "
	case LevelInfo:
		return "[INFO] "
	case LevelWarn:
		return "[WARN] "
	case LevelError:
		return "[ERROR] "
	case LevelFatal:
		return "[FATAL] "
	}
	return fmt.Sprintf("[?%d] ", int(lv))
}

type FormatLogger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

// CtxLogger 输出时带上上下文中的 log-id、session-id
type CtxLogger interface {
	CtxDebugf(ctx context.Context, format string, v ...interface{})
	CtxInfof(ctx context.Context, format string, v ...interface{})
	CtxWarnf(ctx context.Context, format string, v ...interface{})
	CtxErrorf(ctx context.Context, format string, v ...interface{})
}

type Control interface {
	SetLevel(Level)
	SetOutput(io.Writer)
}

type FullLogger interface {
	FormatLogger
	CtxLogger
	Control
}

type ILog struct {
	stdLog *log.Logger
	level  Level
}

// NewLogger 创建写入 w 的日志实例，flags 与默认日志一致
func NewLogger(w io.Writer, lv Level) *ILog {
	return &ILog{
		stdLog: log.New(w, "", log.LstdFlags|log.Lshortfile|log.Lmicroseconds),
		level:  lv,
	}
}

func (il *ILog) SetOutput(w io.Writer) {
	il.stdLog.SetOutput(w)
}

func (il *ILog) SetLevel(lv Level) {
	il.level = lv
}

// output 的调用深度固定为 ILog 方法或包级函数之下一层
func (il *ILog) output(ctx context.Context, lv Level, format string, v ...interface{}) {
	if il.level > lv {
		return
	}
	msg := lv.String() + ctxPrefix(ctx) + fmt.Sprintf(format, v...)
	_ = il.stdLog.Output(4, msg)
	if lv == LevelFatal {
		os.Exit(1)
	}
}

func (il *ILog) Debugf(format string, v ...interface{}) {
	il.output(context.Background(), LevelDebug, format, v...)
}

func (il *ILog) Infof(format string, v ...interface{}) {
	il.output(context.Background(), LevelInfo, format, v...)
}

func (il *ILog) Warnf(format string, v ...interface{}) {
	il.output(context.Background(), LevelWarn, format, v...)
}

func (il *ILog) Errorf(format string, v ...interface{}) {
	il.output(context.Background(), LevelError, format, v...)
}

func (il *ILog) Fatalf(format string, v ...interface{}) {
	il.output(context.Background(), LevelFatal, format, v...)
}

func (il *ILog) CtxDebugf(ctx context.Context, format string, v ...interface{}) {
	il.output(ctx, LevelDebug, format, v...)
}

func (il *ILog) CtxInfof(ctx context.Context, format string, v ...interface{}) {
	il.output(ctx, LevelInfo, format, v...)
}

func (il *ILog) CtxWarnf(ctx context.Context, format string, v ...interface{}) {
	il.output(ctx, LevelWarn, format, v...)
}

func (il *ILog) CtxErrorf(ctx context.Context, format string, v ...interface{}) {
	il.output(ctx, LevelError, format, v...)
}
