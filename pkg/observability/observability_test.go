package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "eve-core", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestDisabledProviderRecordsAreNoOps(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordDecision(ctx, "CLASSIFY", "CLASSIFICATION")
	p.RecordSeal(ctx, "DECISION")
	p.RecordError(ctx, errors.New("boom"))

	ctx, done := p.TrackOperation(ctx, "execute_ecl", attribute.String("eve.verb", "CLASSIFY"))
	require.NotNil(t, ctx)
	done(nil)
	done2 := func() {
		_, finish := p.TrackOperation(context.Background(), "op")
		finish(errors.New("fail"))
	}
	require.NotPanics(t, done2)
}

func TestShutdownWithoutInit(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
}
