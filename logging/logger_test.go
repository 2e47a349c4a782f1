package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/crytic/kprove/logging/colors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddAndRemoveWriter checks that writers land in the list matching their format and that duplicates are ignored.
func TestAddAndRemoveWriter(t *testing.T) {
	logger := NewLogger(zerolog.InfoLevel)

	logger.AddWriter(os.Stdout, UNSTRUCTURED, true)
	logger.AddWriter(os.Stderr, UNSTRUCTURED, false)
	logger.AddWriter(os.Stdin, STRUCTURED, false)

	assert.Len(t, logger.unstructuredWriters, 1)
	assert.Len(t, logger.unstructuredColorWriters, 1)
	assert.Len(t, logger.structuredWriters, 1)

	// Duplicates are no-ops
	logger.AddWriter(os.Stdout, UNSTRUCTURED, true)
	logger.AddWriter(os.Stderr, UNSTRUCTURED, false)
	logger.AddWriter(os.Stdin, STRUCTURED, false)

	assert.Len(t, logger.unstructuredWriters, 1)
	assert.Len(t, logger.unstructuredColorWriters, 1)
	assert.Len(t, logger.structuredWriters, 1)

	logger.RemoveWriter(os.Stdout, UNSTRUCTURED, true)
	logger.RemoveWriter(os.Stderr, UNSTRUCTURED, false)
	logger.RemoveWriter(os.Stdin, STRUCTURED, false)

	assert.Empty(t, logger.unstructuredWriters)
	assert.Empty(t, logger.unstructuredColorWriters)
	assert.Empty(t, logger.structuredWriters)
}

// TestDisabledColors checks that the colorized channel emits plain text once colors are disabled.
func TestDisabledColors(t *testing.T) {
	logger := NewLogger(zerolog.InfoLevel)

	var buf bytes.Buffer
	logger.AddWriter(&buf, UNSTRUCTURED, true)
	assert.Len(t, logger.unstructuredColorWriters, 1)

	colors.DisableColor()
	defer colors.EnableColor()
	logger.Info("foo")

	prefix := fmt.Sprintf("%s %s", colors.LEFT_ARROW, "foo")
	assert.Contains(t, buf.String(), prefix)
	assert.NotContains(t, buf.String(), "\x1b[")
}

// TestStructuredSubLogger checks that sub-logger fields, errors and structured info reach the JSON channel.
func TestStructuredSubLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(zerolog.InfoLevel)
	logger.AddWriter(&buf, STRUCTURED, false)

	sub := logger.NewSubLogger(SERVICE_KEY, PROVER_SERVICE)
	sub.Warn("proof ", colors.Bold, "A.test()", " failed", errors.New("boom"), StructuredLogInfo{"nodes": 3})

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, PROVER_SERVICE, event[SERVICE_KEY])
	assert.Equal(t, "proof A.test() failed", event["message"], "structured messages must not carry color codes")
	assert.Equal(t, "boom", event["error"])
	assert.EqualValues(t, map[string]any{"nodes": float64(3)}, event["info"])
}

// TestLevelFiltering checks that events below the logger's level are dropped.
func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(zerolog.WarnLevel)
	logger.AddWriter(&buf, UNSTRUCTURED, false)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(zerolog.InfoLevel)
	logger.Info("shown")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}
