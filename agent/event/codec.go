package event

import (
	"encoding/json"
	"fmt"

	"github.com/hatcher/agentcore/agent/pubsub"
)

type wrapper struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes a payload as {"type": kind, "data": {...}}.
func Marshal(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapper{Type: p.Kind(), Data: data})
}

func Unmarshal(b []byte) (Payload, error) {
	var w wrapper
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case KindSessionCreated:
		return decode[SessionCreated](w.Data)
	case KindSessionUpdated:
		return decode[SessionUpdated](w.Data)
	case KindSessionTitleStart:
		return SessionTitleStart{}, nil
	case KindSessionTitleDelta:
		return decode[SessionTitleDelta](w.Data)
	case KindSessionTitleEnd:
		return decode[SessionTitleEnd](w.Data)
	case KindUserMessageCreated:
		return decode[UserMessageCreated](w.Data)
	case KindAssistantMessageCreated:
		return decode[AssistantMessageCreated](w.Data)
	case KindSystemMessageCreated:
		return decode[SystemMessageCreated](w.Data)
	case KindMessageStatusUpdated:
		return decode[MessageStatusUpdated](w.Data)
	case KindStepStart:
		return decode[StepStart](w.Data)
	case KindStepComplete:
		return decode[StepComplete](w.Data)
	case KindTextStart:
		return TextStart{}, nil
	case KindTextDelta:
		return decode[TextDelta](w.Data)
	case KindTextEnd:
		return TextEnd{}, nil
	case KindReasoningStart:
		return ReasoningStart{}, nil
	case KindReasoningDelta:
		return decode[ReasoningDelta](w.Data)
	case KindReasoningEnd:
		return decode[ReasoningEnd](w.Data)
	case KindToolCall:
		return decode[ToolCall](w.Data)
	case KindToolResult:
		return decode[ToolResult](w.Data)
	case KindToolError:
		return decode[ToolError](w.Data)
	case KindFile:
		return decode[File](w.Data)
	case KindError:
		return decode[Error](w.Data)
	case KindAbort:
		return Abort{}, nil
	case KindWarning:
		return decode[Warning](w.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", w.Type)
	}
}

func decode[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Codec plugs the wrapper encoding into bus tails that leave the process.
type Codec struct{}

var _ pubsub.Codec[Payload] = Codec{}

func (Codec) Encode(p Payload) ([]byte, error) { return Marshal(p) }
func (Codec) Decode(b []byte) (Payload, error) { return Unmarshal(b) }

type envelope struct {
	Channel string          `json:"channel"`
	Seq     uint64          `json:"seq"`
	Time    int64           `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEvent encodes the bus envelope with its wrapped payload.
func MarshalEvent(ev Event) ([]byte, error) {
	payload, err := Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Channel: ev.Channel, Seq: ev.Seq, Time: ev.Time, Payload: payload})
}

func UnmarshalEvent(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Event{}, err
	}
	payload, err := Unmarshal(env.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Channel: env.Channel, Seq: env.Seq, Time: env.Time, Payload: payload}, nil
}
