package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON production logger shared by both ingestion paths.
func NewLogger() (*zap.SugaredLogger, error) {
	return NewLoggerAt(zapcore.InfoLevel)
}

// NewLoggerAt is NewLogger with an explicit minimum level.
func NewLoggerAt(level zapcore.Level) (*zap.SugaredLogger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// ForRun tags every line of one ingestion run.
func ForRun(log *zap.SugaredLogger, runID, path string) *zap.SugaredLogger {
	return log.With("run_id", runID, "path", path)
}
