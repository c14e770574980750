package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultConfigAndIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "client", cfg.Role)
	require.Equal(t, 50, cfg.MaxConnections)
	require.Equal(t, 0.5, cfg.RenewalRatio)
	require.FileExists(t, path)
	require.FileExists(t, filepath.Join(cfg.DataDir, "keys", "node.key"))
	require.FileExists(t, filepath.Join(cfg.DataDir, "keys", "node.pub"))
}

func TestLoadParsesExplicitSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := fmt.Sprintf(`Role = "admin"
ListenAddress = "0.0.0.0:7331"
DataDir = "%s"
BootstrapEndpoints = ["10.0.0.1:7331"]
MaxConnections = 80
MaxHops = 4
ReputationBlacklistThreshold = 0.35
`, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "admin", cfg.Role)
	require.Equal(t, 80, cfg.MaxConnections)
	require.Equal(t, 4, cfg.MaxHops)
	require.Equal(t, 0.35, cfg.ReputationBlacklistThreshold)
	require.Equal(t, 30, cfg.RouteAnnounceIntervalSeconds)
}

func TestLoadDefaultsLivenessAndBackoffKnobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 15, cfg.PingIntervalSeconds)
	require.Equal(t, 30, cfg.ReadTimeoutSeconds)
	require.Equal(t, 1, cfg.DialBackoffSeconds)
	require.Equal(t, 300, cfg.MaxDialBackoffSeconds)

	require.Equal(t, 15*time.Second, cfg.PingInterval())
	require.Equal(t, 30*time.Second, cfg.ReadTimeout())
	require.Equal(t, time.Second, cfg.DialBackoff())
	require.Equal(t, 300*time.Second, cfg.MaxDialBackoff())
}

func TestLoadIsIdempotentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	first, err := Load(path)
	require.NoError(t, err)

	second, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, first.DataDir, second.DataDir)
	require.Equal(t, first.ListenAddress, second.ListenAddress)
}
