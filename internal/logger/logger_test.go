package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitializeWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	require.NoError(t, Initialize(Config{File: path, Fields: map[string]string{"node": "n1"}}))
	t.Cleanup(func() { SetDefault(nil) })

	Debug("hidden")
	Info("block committed", zap.Int64("height", 4))
	Sync()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 1, "debug is off")
	assert.Equal(t, "block committed", lines[0]["msg"])
	assert.Equal(t, "n1", lines[0]["node"])
	assert.EqualValues(t, 4, lines[0]["height"])
}

func TestDefaultIsNop(t *testing.T) {
	SetDefault(nil)
	assert.NotPanics(t, func() {
		Error(nil)
		Named("rpc").Info("ignored")
	})
}
