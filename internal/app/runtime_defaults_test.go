package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsGeneratesJWTSecret(t *testing.T) {
	cfg := &Config{}
	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["auth.jwt.secret"])
	require.Len(t, cfg.Auth.JWT.Secret, jwtSecretBytes*2)

	secret, err := DecodeKey(cfg.Auth.JWT.Secret)
	require.NoError(t, err)
	require.Len(t, secret, jwtSecretBytes)
}

func TestApplyRuntimeDefaultsKeepsConfiguredSecret(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{JWT: JWTSettings{Secret: "configured"}}}
	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, "configured", cfg.Auth.JWT.Secret)

	_, err = ApplyRuntimeDefaults(nil)
	require.Error(t, err)
}
