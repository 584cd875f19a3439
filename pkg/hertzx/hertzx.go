package hertzx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hatcher/agentcore/pkg/hertzx/middleware"
	"github.com/hatcher/agentcore/pkg/resp"
	"github.com/hertz-contrib/cors"
)

type WebConfig struct {
	Host               string `json:"host" yaml:"host" mapstructure:"host"` // 当前主机地址，默认 0.0.0.0
	Port               int    `json:"port" yaml:"port" mapstructure:"port"`
	MaxRequestBodySize int    `json:"maxRequestBodySize" yaml:"max-request-body-size" mapstructure:"max-request-body-size"`
	ReadTimeout        int    `json:"readTimeout" yaml:"read-timeout" mapstructure:"read-timeout"`    // 读取超时时间（毫秒）
	WriteTimeout       int    `json:"writeTimeout" yaml:"write-timeout" mapstructure:"write-timeout"` // 写入超时时间（毫秒），SSE 需要足够长
	IdleTimeout        int    `json:"idleTimeout" yaml:"idle-timeout" mapstructure:"idle-timeout"`    // 空闲超时时间（毫秒）
	ShutdownTimeout    int    `json:"shutdownTimeout" yaml:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

func (cfg *WebConfig) Prepare() {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxRequestBodySize == 0 {
		cfg.MaxRequestBodySize = 1024 * 1024 * 200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * 60 * 1000
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 3 * 60 * 1000
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 24 * 60 * 60 * 1000
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * 1000
	}
}

// Addr 监听地址
func (cfg *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// WebEngine 创建带 log-id、cors、访问日志中间件的 hertz 实例
func WebEngine(cfg WebConfig) *server.Hertz {
	cfg.Prepare()
	opts := []config.Option{
		server.WithHostPorts(cfg.Addr()),
		server.WithMaxRequestBodySize(cfg.MaxRequestBodySize),
		server.WithReadTimeout(time.Duration(cfg.ReadTimeout) * time.Millisecond),
		server.WithWriteTimeout(time.Duration(cfg.WriteTimeout) * time.Millisecond),
		server.WithIdleTimeout(time.Duration(cfg.IdleTimeout) * time.Millisecond),
		server.WithExitWaitTime(time.Duration(cfg.ShutdownTimeout) * time.Millisecond),
	}
	hertz := server.Default(opts...)

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"*"}

	hertz.Use(middleware.SetLogIdMW())
	hertz.Use(cors.New(corsCfg))
	hertz.Use(middleware.AccessLogMW())
	return hertz
}

func Bad(c *app.RequestContext, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, resp.Response{
		Code:    resp.BadRequest,
		Message: message,
	})
}

// Badf 返回错误信息
func Badf(c *app.RequestContext, format string, args ...interface{}) {
	Bad(c, fmt.Sprintf(format, args...))
}

// NotFound 资源不存在
func NotFound(c *app.RequestContext, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, resp.Error(resp.NotFound, message))
}

// Conflict 资源状态冲突，如会话正在处理中
func Conflict(c *app.RequestContext, message string) {
	c.AbortWithStatusJSON(http.StatusConflict, resp.Error(resp.Conflict, message))
}

// Data 返回成功数据
func Data(c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, resp.Success(data))
}

func Error(c *app.RequestContext, message string) {
	c.JSON(http.StatusInternalServerError, resp.Error(resp.Failed, message))
}
