package config

import (
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const appName = "html2epub"

var logLevels = []string{"none", "normal", "debug"}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Destination string `mapstructure:"destination"`
	Mode        string `mapstructure:"mode"`
}

type LoggingConfig struct {
	FileLogger    LoggerConfig `mapstructure:"file"`
	ConsoleLogger LoggerConfig `mapstructure:"console"`
}

func (conf *LoggingConfig) validate() error {
	if !slices.Contains(logLevels, conf.ConsoleLogger.Level) {
		return fmt.Errorf("logging.console.level must be one of %v, got %q", logLevels, conf.ConsoleLogger.Level)
	}
	if !slices.Contains(logLevels, conf.FileLogger.Level) {
		return fmt.Errorf("logging.file.level must be one of %v, got %q", logLevels, conf.FileLogger.Level)
	}
	if conf.FileLogger.Level != "none" && conf.FileLogger.Destination == "" {
		return fmt.Errorf("logging.file.destination is required when file logging is enabled")
	}
	if m := conf.FileLogger.Mode; m != "" && m != "append" && m != "overwrite" {
		return fmt.Errorf("logging.file.mode must be append or overwrite, got %q", m)
	}
	return nil
}

// Prepare 按配置创建 zap logger: 控制台 Info/Debug 写 stdout, Error 以上写 stderr, 可选写文件
func (conf *LoggingConfig) Prepare() (*zap.Logger, error) {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeCaller = nil
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(ec)

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	var consoleCoreHP, consoleCoreLP zapcore.Core
	switch conf.ConsoleLogger.Level {
	case "normal":
		consoleCoreLP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return zapcore.InfoLevel <= lvl && lvl < zapcore.ErrorLevel
			}))
		consoleCoreHP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), highPriority)
	case "debug":
		consoleCoreLP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout),
			zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return zapcore.DebugLevel <= lvl && lvl < zapcore.ErrorLevel
			}))
		consoleCoreHP = zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), highPriority)
	default:
		consoleCoreLP = zapcore.NewNopCore()
		consoleCoreHP = zapcore.NewNopCore()
	}

	var fileLevel zapcore.Level
	switch conf.FileLogger.Level {
	case "debug":
		fileLevel = zapcore.DebugLevel
	case "normal":
		fileLevel = zapcore.InfoLevel
	default:
		return zap.New(zapcore.NewTee(consoleCoreHP, consoleCoreLP)).Named(appName), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if conf.FileLogger.Mode == "overwrite" {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(conf.FileLogger.Destination, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to access file log destination (%s): %w", conf.FileLogger.Destination, err)
	}
	fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.Lock(f), fileLevel)

	return zap.New(zapcore.NewTee(consoleCoreHP, consoleCoreLP, fileCore), zap.AddCaller()).Named(appName), nil
}
