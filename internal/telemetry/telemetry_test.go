// ABOUTME: Tests for tracer provider setup
// ABOUTME: Verifies disabled mode is a no-op and enabled mode writes spans to the file

package telemetry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2389/relay-gateway/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid(), "no-op provider should produce invalid span contexts")
	span.End()
}

func TestSetup_EnabledWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "relay.jsonl")
	shutdown, err := Setup(config.TracingConfig{Enabled: true, File: path}, "v1.2.3")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "conversation.SendMessage")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "conversation.SendMessage")
	assert.Contains(t, string(data), ServiceName)

	// Leave later tests with a no-op provider
	_, err = Setup(config.TracingConfig{}, "test")
	require.NoError(t, err)
}

func TestNewProvider_SyncExport(t *testing.T) {
	var buf bytes.Buffer
	tp, err := newProvider(&buf, "dev", true)
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "history.append")
	span.SetAttributes(attribute.String("completion.outcome", "ok"))
	span.End()

	assert.Contains(t, buf.String(), "history.append")
	assert.Contains(t, buf.String(), "completion.outcome")
}
