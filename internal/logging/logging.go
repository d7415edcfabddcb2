// Package logging provides the structured logging facade shared by the
// connection engine: a logr.Logger backed by zap, switching between a
// human-readable console encoder and a JSON encoder based on the runtime
// environment.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RuntimeEnvVar selects the production encoder when set to "prod"
// (case-insensitive); any other value, or its absence, keeps the
// development console encoder.
const RuntimeEnvVar = "RESPCORE_RUNTIME"

// NewZapLogger builds the *zap.Logger backing New, exported separately so
// callers that already standardize on zap can reuse the same config.
func NewZapLogger() *zap.Logger {
	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(zap.DebugLevel),
		Development:       true,
		DisableCaller:     false,
		DisableStacktrace: false,
		Encoding:          "console",
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	if isProdRuntime() {
		cfg.Development = false
		cfg.Encoding = "json"
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		encoderCfg = zap.NewProductionEncoderConfig()
	}
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig = encoderCfg

	zapLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("logging: failed to build zap logger: %v", err))
	}
	return zapLogger
}

// New returns the logr.Logger used throughout the connection engine.
func New() logr.Logger {
	return zapr.NewLogger(NewZapLogger())
}

func isProdRuntime() bool {
	v, ok := os.LookupEnv(RuntimeEnvVar)
	if !ok {
		return false
	}
	return strings.EqualFold(v, "prod")
}
