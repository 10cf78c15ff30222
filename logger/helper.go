package logger

func Debug(args ...interface{}) {
	if logger != nil {
		logger.Debug(args...)
	}
}

func Debugf(template string, args ...interface{}) {
	if logger != nil {
		logger.Debugf(template, args...)
	}
}

func Info(args ...interface{}) {
	if logger != nil {
		logger.Info(args...)
	}
}

func Infof(template string, args ...interface{}) {
	if logger != nil {
		logger.Infof(template, args...)
	}
}

func Warn(args ...interface{}) {
	if logger != nil {
		logger.Warn(args...)
	}
}

func Warnf(template string, args ...interface{}) {
	if logger != nil {
		logger.Warnf(template, args...)
	}
}

func Error(args ...interface{}) {
	if logger != nil {
		logger.Error(args...)
	}
}

func Errorf(template string, args ...interface{}) {
	if logger != nil {
		logger.Errorf(template, args...)
	}
}

// Component 带 "[name] -> " 前缀的日志入口
type Component string

func (c Component) prefix(template string) string {
	return "[" + string(c) + "] -> " + template
}

func (c Component) Debugf(template string, args ...interface{}) {
	Debugf(c.prefix(template), args...)
}

func (c Component) Infof(template string, args ...interface{}) {
	Infof(c.prefix(template), args...)
}

func (c Component) Warnf(template string, args ...interface{}) {
	Warnf(c.prefix(template), args...)
}

func (c Component) Errorf(template string, args ...interface{}) {
	Errorf(c.prefix(template), args...)
}
