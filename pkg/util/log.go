package util

import "k8s.io/klog/v2"

// Logger 是 operator 对日志输出的最小依赖。
// 库代码默认使用 NopLogger，命令行程序注入 KlogLogger。
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NopLogger 丢弃所有日志。
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Infof(string, ...interface{})    {}
func (NopLogger) Warningf(string, ...interface{}) {}
func (NopLogger) Errorf(string, ...interface{})   {}

// KlogLogger 把日志转发给 klog。
type KlogLogger struct{}

var _ Logger = KlogLogger{}

func (KlogLogger) Infof(format string, args ...interface{}) {
	klog.InfofDepth(1, format, args...)
}

func (KlogLogger) Warningf(format string, args ...interface{}) {
	klog.WarningfDepth(1, format, args...)
}

func (KlogLogger) Errorf(format string, args ...interface{}) {
	klog.ErrorfDepth(1, format, args...)
}

// OrNop 在 l 为 nil 时返回 NopLogger。
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
