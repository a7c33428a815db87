// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/keystride/keystride/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "config"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.True(t, cmd.SilenceUsage)
}

func TestServeCmd_RegistersConfigFlags(t *testing.T) {
	cmd := NewServeCmd()
	for _, name := range []string{
		"http-addr", "metrics-addr", "database-url", "max-conns", "auto-migrate",
		"token-ttl", "redis-addr", "cache-ttl", "log-format", "log-level",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %q", name)
	}
}

func runConfigCmd(t *testing.T, args ...string) (stdout, stderr string) {
	t.Helper()
	t.Cleanup(func() { configFile = "" })

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"config"}, args...))
	require.NoError(t, cmd.Execute())
	return out.String(), errOut.String()
}

func TestConfigCmd_PrintsRedactedEffectiveConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("JWT_SECRET", "topsecret")
	t.Setenv("DATABASE_URL", "postgres://app:hunter2@db:5432/keystride")

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  redis_addr: redis:6379\n"), 0o600))

	stdout, stderr := runConfigCmd(t, "--config", path, "--log-level", "debug", "--http-addr", ":8080")

	assert.NotContains(t, stdout, "topsecret")
	assert.NotContains(t, stdout, "hunter2")
	assert.Empty(t, stderr)

	var printed config.Config
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &printed))
	assert.Equal(t, ":8080", printed.HTTP.Addr)
	assert.Equal(t, "debug", printed.Log.Level)
	assert.Equal(t, "redis:6379", printed.Cache.RedisAddr)
	assert.Equal(t, "[REDACTED]", printed.Auth.JWTSecret)
	assert.Contains(t, printed.Database.URL, "db:5432/keystride")
}

func TestConfigCmd_WarnsWhenInvalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/keystride")

	stdout, stderr := runConfigCmd(t)

	assert.NotEmpty(t, stdout)
	assert.Contains(t, stderr, "warning:")
	assert.Contains(t, stderr, "auth.jwt_secret")
}
