package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "scoutline-test"})
	log.Component("ingest").WithField(FieldQuery, "ipad").WithError(errors.New("boom")).Warn("search failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scoutline-test", line["service"])
	assert.Equal(t, "ingest", line[FieldComponent])
	assert.Equal(t, "ipad", line[FieldQuery])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "search failed", line["message"])
	assert.Contains(t, line, "timestamp")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Output: &buf})
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	log.Error("shown")
	assert.NotZero(t, buf.Len())
}

func TestNopAndClose(t *testing.T) {
	log := Nop()
	log.Info("dropped")
	assert.NoError(t, log.Close())
}
