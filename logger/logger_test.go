package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zenghr0820/gbsip/config"
	zapLogger "github.com/zenghr0820/zap-logger"
)

func TestFromConfig(t *testing.T) {
	l := NewLogger(FromConfig(config.LogConfig{Name: "gateway", Level: "DEBUG", Env: "dev"})...)

	opts := l.Options()
	assert.Equal(t, "gateway", opts.Name)
	assert.Equal(t, zapLogger.LogLevel("debug"), opts.Level)
	assert.Equal(t, "dev", opts.EnvMode)
	assert.Equal(t, "gateway-dev", l.String())
}

func TestEmptyValuesKeepDefaults(t *testing.T) {
	l := NewLogger(FromConfig(config.LogConfig{})...)

	opts := l.Options()
	assert.Equal(t, "gbsip", opts.Name)
	assert.Equal(t, zapLogger.ErrorLevel, opts.Level)
	assert.Equal(t, "prod", opts.EnvMode)
}

func TestHelpersBeforeInit(t *testing.T) {
	if Enabled() {
		t.Skip("global logger already initialised")
	}
	Component("test").Infof("no-op %d", 1)
	Debug("no-op")
}
