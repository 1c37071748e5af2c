package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "seatengine/configs"
)

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{TracingEnabled: true, TracingEndpoint: "otel:4318", TracingSampling: 0.25}
	tc := FromConfig(cfg, "seatengine-executor")
	assert.Equal(t, Config{ServiceName: "seatengine-executor", Endpoint: "otel:4318", Enabled: true, SamplingRate: 0.25}, tc)
}

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())

	ctx, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
