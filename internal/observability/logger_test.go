package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", false)
	require.NotNil(t, CLILogger)
	assert.Equal(t, zapcore.InfoLevel, Level())

	InitCLILogger("test", true)
	assert.Equal(t, zapcore.DebugLevel, Level())
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}

func TestSetLevel(t *testing.T) {
	defer func() { _ = SetLevel("info") }()

	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "debug", want: zapcore.DebugLevel},
		{in: " WARN ", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "info", want: zapcore.InfoLevel},
		{in: "panic", wantErr: true},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := SetLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, Level())
		})
	}
}
