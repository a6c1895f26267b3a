package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
	} {
		log, err := New(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, log.Core().Enabled(tc.want), tc.in)
		if tc.want > zapcore.DebugLevel {
			assert.False(t, log.Core().Enabled(tc.want-1), tc.in)
		}
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("loud")
	assert.Error(t, err)
}
