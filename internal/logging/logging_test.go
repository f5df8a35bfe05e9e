package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("statement skipped", "index", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "statement skipped", entry["msg"])
	assert.Equal(t, float64(1), entry["index"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text")

	logger.Debug("calling procedure", "procedure", "get_schemas")
	assert.Contains(t, buf.String(), "procedure=get_schemas")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("DEBUG").Level().String())
	assert.Equal(t, "ERROR", parseLevel("error").Level().String())
	assert.Equal(t, "INFO", parseLevel("verbose").Level().String())
}
