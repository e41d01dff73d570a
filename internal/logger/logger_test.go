package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "debug", "json")

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("order_id", "abc").Info("order placed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order placed", line["msg"])
	assert.Equal(t, "abc", line["order_id"])
}

func TestNewWithOutputInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "loud", "text")

	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "invalid LOG_LEVEL")
}
