package storage

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel 定义日志级别类型
type LogLevel int

// 日志级别常量定义
const (
	DEBUG   LogLevel = iota // 调试信息
	INFO                    // 普通信息
	WARNING                 // 警告信息
	ERROR                   // 错误信息
	FATAL                   // 致命错误
)

// 订阅通道容量
const subscriberBuffer = 100

// Options 日志配置
type Options struct {
	Filename string // 日志文件路径
	MaxSize  string // 单个文件最大字节数，支持 "10 * 1024 * 1024" 写法
	Debug    bool   // 同时输出到stderr并记录DEBUG级别
}

// Logger 日志记录器结构体
type Logger struct {
	zl          *zap.Logger
	rotator     *lumberjack.Logger // 日志文件(按大小轮转)
	mu          sync.Mutex         // 保护订阅者列表
	subscribers []chan string      // 订阅者通道列表
}

// NewLogger 使用默认配置创建日志记录器
func NewLogger(filename string) (*Logger, error) {
	return NewLoggerWithOptions(Options{Filename: filename})
}

// NewLoggerWithOptions 创建新的日志记录器
// 文件输出为JSON格式，订阅者收到的是单行文本
func NewLoggerWithOptions(opts Options) (*Logger, error) {
	// 提前创建文件，尽早暴露权限问题
	f, err := os.OpenFile(opts.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	f.Close()

	l := &Logger{
		rotator: &lumberjack.Logger{
			Filename:   opts.Filename,
			MaxSize:    maxSizeMB(opts.MaxSize),
			MaxBackups: 10,
			LocalTime:  true,
		},
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	textCfg := encCfg
	textCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(l.rotator), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(textCfg), zapcore.AddSync(subscriberSink{l}), level),
	}
	if opts.Debug {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(textCfg), zapcore.Lock(os.Stderr), level))
	}

	l.zl = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2))
	return l, nil
}

// Close 刷新缓冲并关闭日志文件
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	return l.rotator.Close()
}

// Rotate 立即轮转日志文件(SIGHUP时调用)
func (l *Logger) Rotate() error {
	return l.rotator.Rotate()
}

// Zap 返回底层zap日志，供中间件记录结构化字段
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Log 记录日志方法
func (l *Logger) Log(level LogLevel, message string, fields ...zap.Field) {
	switch level {
	case DEBUG:
		l.zl.Debug(message, fields...)
	case INFO:
		l.zl.Info(message, fields...)
	case WARNING:
		l.zl.Warn(message, fields...)
	case ERROR:
		l.zl.Error(message, fields...)
	case FATAL:
		// 不在日志内退出进程，由调用方决定
		l.zl.Error(message, append(fields, zap.String("severity", FATAL.String()))...)
	}
}

// Subscribe 订阅日志消息
// 返回值:
//
//	<-chan string: 只读通道，用于接收日志消息
func (l *Logger) Subscribe() <-chan string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan string, subscriberBuffer)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Unsubscribe 取消订阅并关闭通道
func (l *Logger) Unsubscribe(sub <-chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, ch := range l.subscribers {
		if ch == sub {
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (l *Logger) publish(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ch := range l.subscribers {
		select {
		case ch <- entry: // 尝试发送日志条目
		default: // 如果通道已满则跳过
		}
	}
}

// subscriberSink 把编码后的日志行转发给订阅者
type subscriberSink struct {
	l *Logger
}

func (s subscriberSink) Write(p []byte) (int, error) {
	s.l.publish(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (s subscriberSink) Sync() error { return nil }

// String 实现LogLevel的String方法
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// eval 计算 "10 * 1024 * 1024" 形式的乘积
func eval(expr string) int64 {
	if strings.TrimSpace(expr) == "" {
		return 0
	}
	parts := strings.Split(expr, "*")
	var result int64 = 1
	for _, part := range parts {
		num, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0
		}
		result *= num
	}
	return result
}

// maxSizeMB lumberjack按MB计，向上取整，未配置时为100MB
func maxSizeMB(expr string) int {
	const mb = 1024 * 1024
	size := eval(expr)
	if size <= 0 {
		return 100
	}
	return int((size + mb - 1) / mb)
}

// 以下是快捷日志方法
func (l *Logger) Debug(msg string)   { l.Log(DEBUG, msg) }   // 记录调试信息
func (l *Logger) Info(msg string)    { l.Log(INFO, msg) }    // 记录普通信息
func (l *Logger) Warning(msg string) { l.Log(WARNING, msg) } // 记录警告信息
func (l *Logger) Error(msg string)   { l.Log(ERROR, msg) }   // 记录错误信息
func (l *Logger) Fatal(msg string)   { l.Log(FATAL, msg) }   // 记录致命错误

// 结构化字段版本
func (l *Logger) Infow(msg string, fields ...zap.Field)  { l.Log(INFO, msg, fields...) }
func (l *Logger) Errorw(msg string, fields ...zap.Field) { l.Log(ERROR, msg, fields...) }
