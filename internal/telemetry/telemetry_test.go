package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honkhq/honk/internal/events"
)

func TestEndpointsFromEnv(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		t.Setenv(EnvMetricsURL, "")
		t.Setenv(EnvLogsURL, "")
		_, ok, err := EndpointsFromEnv()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("one url fills the other", func(t *testing.T) {
		t.Setenv(EnvMetricsURL, "http://vm:8428/push")
		t.Setenv(EnvLogsURL, "")
		t.Setenv(EnvInterval, "")
		ep, ok, err := EndpointsFromEnv()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "http://vm:8428/push", ep.MetricsURL)
		assert.Equal(t, DefaultLogsURL, ep.LogsURL)
		assert.Equal(t, DefaultInterval, ep.Interval)
	})

	t.Run("interval", func(t *testing.T) {
		t.Setenv(EnvLogsURL, "http://vl:9428/insert")
		t.Setenv(EnvInterval, "5s")
		ep, _, err := EndpointsFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, ep.Interval)

		t.Setenv(EnvInterval, "soon")
		_, _, err = EndpointsFromEnv()
		assert.Error(t, err)
	})
}

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")
	initMu.Lock()
	started, provider = false, nil
	initMu.Unlock()

	p, err := Init(context.Background(), "honk", "test")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_ShutdownOnce(t *testing.T) {
	calls := 0
	p := &Provider{closers: []func(context.Context) error{
		func(context.Context) error { calls++; return nil },
		func(context.Context) error { return errors.New("flush failed") },
	}}
	err := p.Shutdown(context.Background())
	assert.ErrorContains(t, err, "flush failed")
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestEventLog_NoProviderIsNoop(t *testing.T) {
	total := 3
	e := events.Event{Type: events.TypeScan, ScanNumber: 1, TotalPTYs: &total}
	assert.NoError(t, (EventLog{}).Emit(e))
	RecordSignal(context.Background(), 42, "killed", "")
}
