package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options describe the process a logger belongs to. Store and Strategy are
// stamped on every entry so runs with different setups can be told apart.
type Options struct {
	Service  string
	Env      string
	Level    string
	Store    string
	Strategy string

	// File receives a copy of every entry when set.
	File string
}

// New builds a JSON logger writing to stdout.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level.SetLevel(lvl)
	}

	outputs := []string{"stdout"}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("prepare log dir: %w", err)
		}
		outputs = append(outputs, opts.File)
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoder.EncodeLevel = zapcore.LowercaseLevelEncoder

	cfg := zap.Config{
		Level:       level,
		Development: opts.Env == "dev",
		// contention produces bursts of identical entries; keep them all
		Sampling:         nil,
		Encoding:         "json",
		EncoderConfig:    encoder,
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
		InitialFields:    initialFields(opts),
	}

	return cfg.Build()
}

// MustNew is like New but panics if the logger cannot be created.
func MustNew(opts Options) *zap.Logger {
	logger, err := New(opts)
	if err != nil {
		panic(err)
	}
	return logger
}

// ForRequest scopes logger to one decrement request.
func ForRequest(logger *zap.Logger, requestID, stockID string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(
		zap.String("request_id", requestID),
		zap.String("stock_id", stockID),
	)
}

func initialFields(opts Options) map[string]any {
	fields := map[string]any{
		"service": opts.Service,
		"env":     opts.Env,
	}
	if opts.Store != "" {
		fields["store"] = opts.Store
	}
	if opts.Strategy != "" {
		fields["strategy"] = opts.Strategy
	}
	return fields
}
