package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, zapcore.InfoLevel, Level(Options{}))
	require.Equal(t, zapcore.DebugLevel, Level(Options{Verbose: true}))
	require.Equal(t, zapcore.WarnLevel, Level(Options{Quiet: true}))
	require.Equal(t, zapcore.DebugLevel, Level(Options{Verbose: true, Quiet: true}))
}

func TestNewBuildsBothEncoders(t *testing.T) {
	t.Parallel()

	console, err := New(Options{RunID: "abc"})
	require.NoError(t, err)
	require.NotNil(t, console)

	jsonLogger, err := New(Options{JSON: true, Verbose: true})
	require.NoError(t, err)
	require.True(t, jsonLogger.Core().Enabled(zapcore.DebugLevel))
}
