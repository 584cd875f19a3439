package cronx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateExpression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/30 * * * * *", false},
		{"@every 1m", false},
		{"0 0 * * *", true},
		{"not a cron", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			err := DefaultCronParser.ValidateExpression(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGetNextNSchedules(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runs, err := DefaultCronParser.GetNextNSchedules("0 */10 * * * *", from, 3)
	require.NoError(t, err)
	require.Equal(t, []time.Time{
		from.Add(10 * time.Minute),
		from.Add(20 * time.Minute),
		from.Add(30 * time.Minute),
	}, runs)
}

func TestStoppableCron(t *testing.T) {
	t.Parallel()

	sc := NewStoppableCron()
	ran := make(chan struct{}, 1)
	_, err := sc.AddFunc("@every 1s", func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	sc.Start()
	require.True(t, sc.Running())
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	<-sc.Stop().Done()
	require.False(t, sc.Running())
}
