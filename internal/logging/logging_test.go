package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOutput("debug", FormatJSON, &buf)
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())

	LogError(logger, "syncer", "push", map[string]string{"id": "r1"}, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "boom", entry["msg"])
	require.Equal(t, "syncer", entry["component"])
	require.Equal(t, "push", entry["op"])
	require.Equal(t, "error", entry["level"])
}

func TestNewWithOutput_Invalid(t *testing.T) {
	_, err := NewWithOutput("loud", FormatJSON, &bytes.Buffer{})
	require.Error(t, err)

	_, err = NewWithOutput("info", "xml", &bytes.Buffer{})
	require.Error(t, err)
}

func TestOr(t *testing.T) {
	require.NotNil(t, Or(nil))
	l := logrus.New()
	require.Same(t, l, Or(l))
}
