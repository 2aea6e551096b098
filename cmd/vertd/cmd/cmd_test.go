package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vertd/internal/version"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--json"})
	t.Cleanup(func() {
		versionJSON = false
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	var info version.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestConfigDump_RedactsSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VERTD_ADMIN_PASSWORD", "hunter2")
	t.Setenv("WEBHOOK_URL", "https://discord.com/api/webhooks/1/secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "dump"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), "secret")

	var dumped struct {
		Server struct {
			Port int `yaml:"port"`
		} `yaml:"server"`
		Admin struct {
			Password string `yaml:"password"`
		} `yaml:"admin"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &dumped))
	assert.Equal(t, "[REDACTED]", dumped.Admin.Password)
	assert.Equal(t, 24153, dumped.Server.Port)
}
