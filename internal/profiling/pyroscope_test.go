package profiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartWithoutServerIsNoop(t *testing.T) {
	stop, err := Start("crypto-etl.test", "", "test", zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, stop)
	stop()
}

func TestZapAdapterKeepsLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := zapAdapter{zap.New(core).Sugar()}

	a.Infof("upload %d", 1)
	a.Debugf("tick")
	a.Errorf("failed: %s", "boom")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "upload 1", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "failed: boom", entries[2].Message)
}
