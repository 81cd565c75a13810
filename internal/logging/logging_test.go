package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.log")
	logger, sync, err := New(Config{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Named("bridge").Info("applied", zap.String("kind", "CellClaim"))
	sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))
	require.Contains(t, line, `"logger":"bridge"`)
	require.Contains(t, line, `"kind":"CellClaim"`)
	require.Contains(t, line, `"level":"INFO"`)
}

func TestNew_BadConfig(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	require.Error(t, err)

	_, _, err = New(Config{Level: "info", Format: "xml"})
	require.Error(t, err)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
}
