package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "agentcore.yaml")
	require.NoError(t, WriteDefault(path))
	require.Error(t, WriteDefault(path))

	t.Setenv("AGENTCORE_WEB_PORT", "9090")
	c, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, c.Web.Port)
	require.Equal(t, 50*time.Millisecond, c.Retry.InitialInterval)
	require.Equal(t, uint(5), c.Retry.MaxTries)
	require.Equal(t, 25, c.Agent.MaxSteps)
	require.Equal(t, []int{50, 70, 90}, c.Triggers.ContextThresholds)
	require.Equal(t, "@every 1m", c.Janitor.Schedule)
	require.True(t, c.Janitor.Enable)
	require.False(t, c.Redis.Enable)

	require.Len(t, c.Models.Providers, 1)
	p := c.Models.Providers[0]
	require.Equal(t, "local", p.ID)
	require.Equal(t, "openai-compat", p.Type)
	require.Equal(t, int64(32768), p.Models[0].ContextWindow)
	require.Equal(t, "qwen3:8b", c.Models.SmallModel.Model)
}

func TestLoadFillsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "min.yaml")
	require.NoError(t, os.WriteFile(path, []byte("web:\n  port: 7000\nagent:\n  max-steps: 3\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, c.Web.Port)
	require.Equal(t, 3, c.Agent.MaxSteps)
	require.Equal(t, 512, c.Bus.ReplaySize)
	require.Equal(t, 30, c.Lock.Expiration)
	require.NotEmpty(t, c.Agent.SystemPrompt)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	_, err = Load("")
	require.Error(t, err)
}
