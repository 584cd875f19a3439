package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartsJSONWrapper(t *testing.T) {
	t.Parallel()

	parts := Parts{
		NoticePart{NoticeType: "todo-reminder", Content: "use todos", Time: 1},
		ReasoningPart{Text: "thinking", Status: StatusCompleted, Duration: 12},
		FilePart{MediaType: "image/png", Data: []byte{1, 2}},
		ErrorPart{Message: "boom"},
	}
	b, err := json.Marshal(parts)
	require.NoError(t, err)

	var wrappers []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &wrappers))
	require.Len(t, wrappers, 4)
	require.JSONEq(t, `"system-notice"`, string(wrappers[0]["type"]))

	var back Parts
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, parts, back)

	_, err = UnmarshalPart("bogus", []byte(`{}`))
	require.Error(t, err)
}

func TestCloseActiveIsIdempotent(t *testing.T) {
	t.Parallel()

	parts := Parts{
		TextPart{Text: "a", Status: StatusActive},
		ToolPart{ToolCallID: "c1", Status: StatusCompleted, StartedAt: 100, Duration: 5},
		ToolPart{ToolCallID: "c2", Status: StatusActive, StartedAt: 100},
		ReasoningPart{Text: "r", Status: StatusActive, StartedAt: 150},
	}
	require.Equal(t, 3, parts.CloseActive(StatusAbort, 200))
	require.Equal(t, 0, parts.CloseActive(StatusAbort, 300))

	require.Equal(t, StatusAbort, parts[0].(TextPart).Status)
	require.Equal(t, int64(5), parts[1].(ToolPart).Duration)
	require.Equal(t, int64(100), parts[2].(ToolPart).Duration)
	require.Equal(t, int64(50), parts[3].(ReasoningPart).Duration)
}
