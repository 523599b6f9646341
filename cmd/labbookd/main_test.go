package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`database:
  dsn: %q
auth:
  jwt_secret: "cli-test-secret"
log:
  level: "error"
`, filepath.Join(dir, "labbook.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCreateAdmin(t *testing.T) {
	path := writeConfig(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "migrate"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"--config", path, "create-admin", "--email", "root@lab.org", "--password", "rootpass"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "administrator root@lab.org")

	// Running it again promotes the existing account instead of failing.
	out.Reset()
	rootCmd.SetArgs([]string{"--config", path, "create-admin", "--email", "root@lab.org", "--password", "newpass1"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "administrator root@lab.org")
}

func TestMissingConfig(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "migrate"})
	assert.Error(t, rootCmd.Execute())
}
