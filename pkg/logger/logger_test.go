package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	ctx := logg.WithCorrelationID(context.Background(), "corr-123")
	ctx = logg.WithTransactionID(ctx, "tx-9")
	logg.Info(ctx, "checkout.confirm")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-123", entry["correlation_id"])
	assert.Equal(t, "tx-9", entry["transaction_id"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "checkout.confirm", entry["message"])
}

func TestCorrelationIDAccessor(t *testing.T) {
	logg := New(Options{ServiceName: "test", Output: &bytes.Buffer{}})

	assert.Empty(t, logg.CorrelationID(context.Background()))

	ctx := logg.WithCorrelationID(context.Background(), "corr-77")
	assert.Equal(t, "corr-77", logg.CorrelationID(ctx))

	// Adding unrelated fields must not lose the id.
	ctx = logg.WithTransactionID(ctx, "tx-1")
	assert.Equal(t, "corr-77", logg.CorrelationID(ctx))
}
