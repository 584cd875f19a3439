package hertzx

import (
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/pkg/errors"
)

// DefaultQueryInt 获取int参数，为空时返回默认值
func DefaultQueryInt(c *app.RequestContext, paramName string, defaultValue int) (int, error) {
	pv := c.DefaultQuery(paramName, "")
	if pv == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(pv)
	if err != nil {
		return 0, errors.WithMessagef(err, "参数 %s 转换失败", paramName)
	}
	return v, nil
}

// RequiredParam 获取路径参数，为空时返回错误
func RequiredParam(c *app.RequestContext, paramName string) (string, error) {
	v := c.Param(paramName)
	if v == "" {
		return "", errors.Errorf("参数 %s 不能为空", paramName)
	}
	return v, nil
}
