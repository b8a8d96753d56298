// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
)

const shopPage = `<!DOCTYPE html>
<html><head><title>Shop</title></head>
<body>
  <h1>Checkout</h1>
  <input id="qty" type="number" value="2">
  <button id="buy">Buy now</button>
  <button id="cancel">Cancel</button>
  <a href="/help">Help</a>
</body></html>`

// resetForTest isolates package-level state between command runs. The
// global logger is pinned to a silent writer so commands cannot replace it.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "json"}, zapcore.AddSync(io.Discard))
	t.Cleanup(func() {
		cfgFile = ""
		observability.ResetForTest()
	})
	// Keep ./config.yaml and ~/.scalpel-pilot out of the picture.
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	homedir.DisableCache = true
}

// writeFile writes content under a temp dir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs a fresh command tree and returns what it printed.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}
