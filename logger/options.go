package logger

import (
	"strings"

	"github.com/zenghr0820/gbsip/config"
	zapLogger "github.com/zenghr0820/zap-logger"
)

// logger 配置
type Options struct {
	Name    string
	Dir     string
	Level   zapLogger.LogLevel
	EnvMode string
	Skip    int
}

type Option func(o *Options)

func Name(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Name = name
		}
	}
}

func Dir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// Level 接收 debug/info/warn/error, 大小写不敏感
func Level(level string) Option {
	return func(o *Options) {
		if level != "" {
			o.Level = zapLogger.LogLevel(strings.ToLower(level))
		}
	}
}

func EnvMode(env string) Option {
	return func(o *Options) {
		if env != "" {
			o.EnvMode = env
		}
	}
}

func Skip(skip int) Option {
	return func(o *Options) {
		o.Skip = skip
	}
}

// FromConfig 由配置文件的 log 段生成选项
func FromConfig(c config.LogConfig) []Option {
	return []Option{Name(c.Name), Dir(c.Dir), Level(c.Level), EnvMode(c.Env)}
}
