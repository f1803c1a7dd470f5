package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alanyoungcy/riskgate/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	return out.String(), err
}

func TestEncryptSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "okx.enc")

	out, err := execute(t, "top-secret\n", "encrypt-secret", "--out", path, "--password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	secret, err := crypto.LoadSecret(crypto.SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "top-secret", secret)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEncryptSecretNeedsPassword(t *testing.T) {
	t.Setenv(passwordEnv, "")
	_, err := execute(t, "x\n", "encrypt-secret", "--out", filepath.Join(t.TempDir(), "f"))
	assert.ErrorContains(t, err, "password required")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReconcilePrintsReports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "0", "msg": "", "data": []any{}})
	}))
	defer srv.Close()

	path := writeConfig(t, `
[okx]
base_url = "`+srv.URL+`"
max_retries = 0

[ledger]
data_dir = "`+filepath.ToSlash(t.TempDir())+`"

[[strategies]]
name = "trend"
`)

	out, err := execute(t, "", "reconcile", "--config", path)
	require.NoError(t, err)

	var reports map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	assert.Contains(t, reports, "trend")
}

func TestSubmitRequiresRedis(t *testing.T) {
	path := writeConfig(t, "")
	_, err := execute(t, "", "submit", "--config", path, "--instrument", "btc-usdt-swap", "--quantity", "1")
	assert.ErrorContains(t, err, "redis.enabled")
}

func TestInvalidConfigFails(t *testing.T) {
	path := writeConfig(t, `log_level = "loud"`)
	_, err := execute(t, "", "regime", "--config", path)
	assert.ErrorContains(t, err, "config validation failed")
}
