package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewInstallsGlobal(t *testing.T) {
	for _, env := range []string{"dev", "production", "test", ""} {
		t.Run(env, func(t *testing.T) {
			log, err := New(env)
			require.NoError(t, err)
			require.NotNil(t, log)
			require.Same(t, log, zap.L())
		})
	}
}

func TestDevelopmentEnablesDebug(t *testing.T) {
	log, err := New("dev")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = New("production")
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zap.DebugLevel))
}
