package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearServerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BIND_ADDRESS", "CLIENT_WS_PORT", "SERVER_WS_PORT", "HTTP_PORT",
		"NEIGHBOUR_ADDRESSES", "EXTERNAL_ADDRESS", "LOG_MESSAGES",
		"OLAF_LOG_LEVEL", "METRICS_PORT", "OLAF_ENV_FILE", "OLAF_CONFIG_FILE",
		"OLAF_CONFIG_DIR",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadServerConfig(t *testing.T) {
	clearServerEnv(t)
	defer clearServerEnv(t)

	os.Setenv("CLIENT_WS_PORT", "9000")
	os.Setenv("SERVER_WS_PORT", "9001")
	os.Setenv("HTTP_PORT", "9002")
	os.Setenv("NEIGHBOUR_ADDRESSES", "a.example.com:9001, b.example.com:9001")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 9000, cfg.ClientWSPort)
	assert.Equal(t, 9001, cfg.ServerWSPort)
	assert.Equal(t, 9002, cfg.HTTPPort)
	assert.Equal(t, []string{"a.example.com:9001", "b.example.com:9001"}, cfg.NeighbourAddresses)
}

func TestLoadServerConfigMissingPort(t *testing.T) {
	clearServerEnv(t)
	defer clearServerEnv(t)

	_, err := LoadServerConfig()
	require.Error(t, err)
}

func TestLoadServerConfigBadInt(t *testing.T) {
	clearServerEnv(t)
	defer clearServerEnv(t)

	os.Setenv("CLIENT_WS_PORT", "not-a-port")
	_, err := LoadServerConfig()
	require.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("OLAF_TEST_VAR", "value")
	defer os.Unsetenv("OLAF_TEST_VAR")

	assert.Equal(t, "value", SubstituteEnvVars("${OLAF_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${OLAF_UNSET_VAR:fallback}"))
	assert.Equal(t, "", SubstituteEnvVars("${OLAF_UNSET_VAR}"))
}

func TestMessageExpiry(t *testing.T) {
	c := &ClientConfig{MessageExpiryTime: -1}
	_, forever := c.MessageExpiry()
	assert.True(t, forever)

	c.MessageExpiryTime = 0
	d, forever := c.MessageExpiry()
	assert.False(t, forever)
	assert.Zero(t, d)

	c.MessageExpiryTime = 30
	d, forever = c.MessageExpiry()
	assert.False(t, forever)
	assert.Equal(t, int64(30), int64(d.Seconds()))
}
