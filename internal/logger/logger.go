package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger: colored console output on stderr, level
// taken from LOG_LEVEL (info when unset or unparsable). It also replaces
// the zap globals and redirects the stdlib logger, so third-party log calls
// land in the same stream.
func New() *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(os.Stderr),
		levelFromEnv(),
	)

	logger := zap.New(core, zap.AddCaller()).Named("parcelgate")

	zap.ReplaceGlobals(logger)
	log.SetOutput(zap.NewStdLog(logger).Writer())

	return logger
}

func levelFromEnv() zapcore.Level {
	var level zapcore.Level
	if err := level.Set(os.Getenv("LOG_LEVEL")); err != nil {
		return zapcore.InfoLevel
	}
	return level
}
