package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "docflow", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.GRPC.Port)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, int64(5*1024*1024), cfg.Upload.MaxFileSize)
	assert.Contains(t, cfg.Upload.AllowedTypes, "application/pdf")
	assert.False(t, cfg.Workflow.AuditAssignments)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.Timeout)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
storage:
  driver: memory
server:
  port: 8181
workflow:
  audit_assignments: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("DOCFLOW_GRPC_PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 9191, cfg.GRPC.Port)
	assert.True(t, cfg.Workflow.AuditAssignments)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DOCFLOW_STORAGE_DRIVER", "mongo")

	_, err := Load("")
	assert.ErrorContains(t, err, "unsupported storage driver")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
