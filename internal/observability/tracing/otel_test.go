package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("DEPLOY_ENV", "staging")
	t.Setenv("OTEL_TRACES_SAMPLE_RATE", "0.25")

	cfg := ConfigFromEnv("facility-api")
	assert.Equal(t, "facility-api", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 0.25, cfg.SampleRate)
}

func TestConfigFromEnv_IgnoresBadSampleRate(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLE_RATE", "lots")
	assert.Equal(t, 1.0, ConfigFromEnv("x").SampleRate)
}

func TestInit_WithoutEndpointIsNoop(t *testing.T) {
	p, err := Init(context.Background(), DefaultConfig("facility-api"))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}
