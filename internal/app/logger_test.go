package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "debug", Mode: "debug"}))
	require.NoError(t, ConfigureLogging(ServerConfig{}))
}
