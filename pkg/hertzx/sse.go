package hertzx

import (
	"encoding/json"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/sse"
	"github.com/pkg/errors"
)

type SseSender struct {
	ss *sse.Stream
}

// NewSseSender 把当前请求切换为 SSE 响应
func NewSseSender(c *app.RequestContext) *SseSender {
	c.Response.Header.Set("X-Accel-Buffering", "no")
	return &SseSender{ss: sse.NewStream(c)}
}

// Send 发送
func (s *SseSender) Send(data *sse.Event) error {
	return s.ss.Publish(data)
}

// SendJSON 以 JSON 发送一个带名称和序号的事件，seq 为 0 时不设置 id
func (s *SseSender) SendJSON(name string, seq uint64, data any) error {
	event, err := BuildDataEvent(data)
	if err != nil {
		return err
	}
	event.Event = name
	if seq > 0 {
		event.ID = strconv.FormatUint(seq, 10)
	}
	return s.Send(event)
}

// BuildDataEvent 构建事件
func BuildDataEvent(data any) (*sse.Event, error) {
	switch v := data.(type) {
	case nil:
		return nil, errors.New("sse event data is nil")
	case *sse.Event:
		return v, nil
	case string:
		return &sse.Event{Data: []byte(v)}, nil
	case []byte:
		return &sse.Event{Data: v}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.WithMessage(err, "marshal sse event")
	}
	return &sse.Event{Data: b}, nil
}
