package message

import (
	"encoding/json"
	"fmt"
)

type PartType string

const (
	TextType      PartType = "text"
	ReasoningType PartType = "reasoning"
	ToolType      PartType = "tool"
	FileType      PartType = "file"
	ErrorType     PartType = "error"
	NoticeType    PartType = "system-notice"
)

// Part is one typed fragment of a step. The set of implementations is closed.
type Part interface {
	PartType() PartType
	isPart()
}

type TextPart struct {
	Text   string `json:"text"`
	Status Status `json:"status"`
}

type ReasoningPart struct {
	Text      string `json:"text"`
	Status    Status `json:"status"`
	StartedAt int64  `json:"startedAt"`
	Duration  int64  `json:"duration"`
}

type ToolPart struct {
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Status     Status          `json:"status"`
	StartedAt  int64           `json:"startedAt"`
	Duration   int64           `json:"duration"`
}

type FilePart struct {
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

type ErrorPart struct {
	Message string `json:"message"`
}

type NoticePart struct {
	NoticeType string `json:"noticeType"`
	Content    string `json:"content"`
	Time       int64  `json:"time"`
}

func (TextPart) PartType() PartType      { return TextType }
func (ReasoningPart) PartType() PartType { return ReasoningType }
func (ToolPart) PartType() PartType      { return ToolType }
func (FilePart) PartType() PartType      { return FileType }
func (ErrorPart) PartType() PartType     { return ErrorType }
func (NoticePart) PartType() PartType    { return NoticeType }

func (TextPart) isPart()      {}
func (ReasoningPart) isPart() {}
func (ToolPart) isPart()      {}
func (FilePart) isPart()      {}
func (ErrorPart) isPart()     {}
func (NoticePart) isPart()    {}

type partWrapper struct {
	Type PartType        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parts marshals as a list of {"type","data"} wrappers.
type Parts []Part

func (ps Parts) MarshalJSON() ([]byte, error) {
	wrapped := make([]partWrapper, len(ps))
	for i, p := range ps {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		wrapped[i] = partWrapper{Type: p.PartType(), Data: data}
	}
	return json.Marshal(wrapped)
}

func (ps *Parts) UnmarshalJSON(b []byte) error {
	var wrapped []partWrapper
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	out := make(Parts, 0, len(wrapped))
	for _, w := range wrapped {
		p, err := UnmarshalPart(w.Type, w.Data)
		if err != nil {
			return err
		}
		out = append(out, p)
	}
	*ps = out
	return nil
}

// UnmarshalPart decodes the data of a single part of the given type.
func UnmarshalPart(typ PartType, data []byte) (Part, error) {
	switch typ {
	case TextType:
		return decodePart[TextPart](data)
	case ReasoningType:
		return decodePart[ReasoningPart](data)
	case ToolType:
		return decodePart[ToolPart](data)
	case FileType:
		return decodePart[FilePart](data)
	case ErrorType:
		return decodePart[ErrorPart](data)
	case NoticeType:
		return decodePart[NoticePart](data)
	default:
		return nil, fmt.Errorf("unknown part type: %s", typ)
	}
}

func decodePart[T Part](data []byte) (Part, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// CloseActive closes every active text, reasoning or tool part with status
// and reports how many were closed. Parts already closed are left alone, so
// calling it twice closes nothing the second time.
func (ps Parts) CloseActive(status Status, now int64) int {
	closed := 0
	for i, p := range ps {
		switch v := p.(type) {
		case TextPart:
			if v.Status == StatusActive {
				v.Status = status
				ps[i] = v
				closed++
			}
		case ReasoningPart:
			if v.Status == StatusActive {
				v.Status = status
				v.Duration = now - v.StartedAt
				ps[i] = v
				closed++
			}
		case ToolPart:
			if v.Status == StatusActive {
				v.Status = status
				v.Duration = now - v.StartedAt
				ps[i] = v
				closed++
			}
		}
	}
	return closed
}
