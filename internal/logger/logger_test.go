package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf, "debug", "json")
	assert.Equal(t, log.DebugLevel, l.GetLevel())

	l.WithField("carrier", "acme").Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "acme", entry["carrier"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := NewWithOutput(&bytes.Buffer{}, "chatty", "text")
	assert.Equal(t, log.InfoLevel, l.GetLevel())
	_, ok := l.Formatter.(*log.TextFormatter)
	assert.True(t, ok)
}
