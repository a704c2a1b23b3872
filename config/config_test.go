package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "5000", cfg.HTTPPort)
	require.Equal(t, "registry-owner", cfg.RegistryOwner)
	require.Equal(t, uint64(100), cfg.PackPrice)
	require.Equal(t,
		"host=localhost port=5432 user=postgres password=postgrespassword dbname=ledger_audit sslmode=disable",
		cfg.GetDSN())
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := []byte("http_port = \"8080\"\npack_price = 250\ngame_server = \"attestor-1\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), content, 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, uint64(250), cfg.PackPrice)
	require.Equal(t, "attestor-1", cfg.GameServer)
	// Untouched keys keep their defaults.
	require.Equal(t, "store-authority", cfg.StoreAuthority)
}

func TestLoadConfig_MissingFileIsFine(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "5000", cfg.HTTPPort)
}

func TestValidate_RejectsEmptyIdentities(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.GameServer = ""
	require.Error(t, cfg.Validate())
}
