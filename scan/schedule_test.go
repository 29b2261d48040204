package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(&Runner{}, "every tuesday", 0, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse schedule")
}

func TestScheduler_Next(t *testing.T) {
	s, err := NewScheduler(&Runner{}, "0 */6 * * *", 0, zap.NewNop())
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), s.Next(from))
}

// TestScheduler_TickSkipsWhileRunning verifies an overlapping tick does not start a second batch
func TestScheduler_TickSkipsWhileRunning(t *testing.T) {
	env := createTestEnv(t, nil)
	_, err := env.store.CreateTarget(context.Background(), "B0CRON0001", "")
	require.NoError(t, err)
	env.addPage("B0CRON0001", iphonePage)

	release := make(chan struct{})
	env.scanner.sleep = blockingSleep(release)

	core, logs := observer.New(zapcore.InfoLevel)
	runner := NewRunner(env.scanner, zap.NewNop())
	s, err := NewScheduler(runner, "@hourly", 5, zap.New(core))
	require.NoError(t, err)

	s.tick()
	assert.True(t, runner.Running())
	require.Len(t, logs.FilterMessage("Scheduled batch run started").All(), 1)

	s.tick()
	assert.Len(t, logs.FilterMessage("Skipping scheduled run, previous batch still running").All(), 1)

	close(release)
	require.Eventually(t, func() bool { return !runner.Running() }, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(&Runner{}, "@every 1h", 0, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
