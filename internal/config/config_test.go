package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.True(t, cfg.Workflow.AllowSkip)
	assert.True(t, cfg.Workflow.EnforceRoles)
	assert.Equal(t, []string{"LOCAL", "ADMIN"}, cfg.Workflow.EnterRoles["CONCERTE_ADP"])
	assert.Equal(t, []string{"ADMIN"}, cfg.Workflow.UnlockRoles)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("workflow:\n  allow_skip: false\nlog:\n  level: debug\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Workflow.AllowSkip)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":       "store:\n  driver: mysql\n",
		"postgres url": "store:\n  driver: postgres\n",
		"log level":    "log:\n  level: loud\n",
		"log format":   "log:\n  format: xml\n",
		"status":       "workflow:\n  enter_roles:\n    DONE: [ADMIN]\n",
		"role":         "workflow:\n  cancel_roles:\n    CONCERTE_ADP: [MAYOR]\n",
		"unlock role":  "workflow:\n  unlock_roles: [NOBODY]\n",
		"invalid yaml": "store: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("server:\n  addr: 0.0.0.0:9000\nworkflow:\n  allow_skip: false\n"), 0o644))
	t.Setenv("PDFCP_STORE_DRIVER", "postgres")
	t.Setenv("PDFCP_STORE_DATABASE_URL", "postgres://localhost/pdfcp")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.False(t, cfg.Workflow.AllowSkip)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/pdfcp", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("catalog:\n  path: components.yml\n"), 0o644))
	cfg, err := FromFile(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, "components.yml", cfg.Catalog.Path)

	_, err = FromFile(Path(t.TempDir()))
	assert.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestInitLogger(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))
	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
