package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gardenhub/internal/config"
)

// New builds the process logger. Development mode logs colored console lines
// at debug level; everything else is JSON at info level. When a log file is
// configured every entry is also written to a size-rotated file.
func New(cfg config.Config) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zapcore.NewJSONEncoder(encCfg)
	if cfg.Development() {
		level.SetLevel(zapcore.DebugLevel)
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(devCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stdout), level),
	}

	cleanup := func() {}
	if cfg.Log.File != "" {
		rf, err := OpenRotatingFile(cfg.Log.File, int64(cfg.Log.MaxSizeMB)*1024*1024, cfg.Log.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), rf, level))
		cleanup = func() { _ = rf.Close() }
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger.With(zap.String("service", "gardenhub-auth")), func() {
		_ = logger.Sync()
		cleanup()
	}, nil
}
