package gbsip

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zenghr0820/gbsip/callback"
	"github.com/zenghr0820/gbsip/config"
	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/scheduler"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transport"
)

// Options for sip service
// SIP 服务选项
type Options struct {
	Config config.Config
	// ListenHost 监听地址, 默认 0.0.0.0
	ListenHost string
	// 调度器, 为空时服务自己创建并在关闭时停止
	Scheduler scheduler.Scheduler
	// prometheus 注册器, 为空时不注册
	Registerer prometheus.Registerer
	// 传输层选项
	Transport []transport.Option
	// 回调处理函数
	Requests map[sip.RequestMethod]callback.RequestHandler
	Response callback.ResponseHandler
	// REGISTER 认证, 为空不认证
	Users map[string]string
	// 日志
	Logger logger.Logger
}

type Option func(*Options)
type LoggerOption func(*logger.Options)

func newOptions(opts ...Option) Options {
	opt := Options{
		Config:     config.Default(),
		ListenHost: "0.0.0.0",
		Requests:   make(map[sip.RequestMethod]callback.RequestHandler),
		Logger:     logger.NewLogger(),
	}

	for _, o := range opts {
		o(&opt)
	}

	return opt
}

// 配置
func Config(cfg config.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

func ListenHost(host string) Option {
	return func(o *Options) {
		o.ListenHost = host
	}
}

func Scheduler(s scheduler.Scheduler) Option {
	return func(o *Options) {
		o.Scheduler = s
	}
}

// 注册 prometheus 指标
func Registerer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}

// 配置传输层
func Transport(opts ...transport.Option) Option {
	return func(o *Options) {
		o.Transport = append(o.Transport, opts...)
	}
}

// 配置请求回调函数
func RequestCallback(callback map[sip.RequestMethod]callback.RequestHandler) Option {
	return func(o *Options) {
		for method, handler := range callback {
			o.Requests[method] = handler
		}
	}
}

// 配置响应回调函数
func ResponseCallback(callback callback.ResponseHandler) Option {
	return func(o *Options) {
		o.Response = callback
	}
}

// 配置请求回调函数
func AddRequestCallback(method sip.RequestMethod, handler callback.RequestHandler) Option {
	return func(o *Options) {
		o.Requests[method] = handler
	}
}

// RegisterAuth protects REGISTER with a digest challenge in the realm of
// config auth.realm; users maps usernames to passwords.
func RegisterAuth(users map[string]string) Option {
	return func(o *Options) {
		o.Users = users
	}
}

// 配置日志
func LoggerConfig(opts ...LoggerOption) Option {
	return func(o *Options) {
		for _, opt := range opts {
			opt(o.Logger.Options())
		}
		o.Logger.Init()
	}
}

func LoggerName(name string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Name(name)
		option(o)
	}
}

func LoggerDir(dir string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Dir(dir)
		option(o)
	}
}

func LoggerLevel(level string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Level(level)
		option(o)
	}
}

func LoggerEnv(env string) LoggerOption {
	return func(o *logger.Options) {
		option := logger.EnvMode(env)
		option(o)
	}
}

func LoggerSkip(skip int) LoggerOption {
	return func(o *logger.Options) {
		option := logger.Skip(skip)
		option(o)
	}
}

// LoggerFromConfig 按配置文件的 log 段初始化日志
func LoggerFromConfig(c config.LogConfig) Option {
	return func(o *Options) {
		o.Logger.Init(logger.FromConfig(c)...)
	}
}
