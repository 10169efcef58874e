package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_FanOut(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "elt.log")

	require.NoError(t, InitLogger(file, WithQuiet(), WithWriter(&buf)))
	t.Cleanup(Close)

	Info("extracted", "entity", "users", "rows", 3)
	Warn("scratch dir not found", "path", "/tmp/x")

	assert.Contains(t, buf.String(), "entity=users")
	assert.Contains(t, buf.String(), "path=/tmp/x")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rows=3")
}

func TestInitLogger_JSONAndDebug(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLogger("", WithQuiet(), WithWriter(&buf), WithFormat("json"), WithDebug()))
	t.Cleanup(Close)

	Debug("dispatch", "step", "seed")
	assert.Contains(t, buf.String(), `"step":"seed"`)
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
}
