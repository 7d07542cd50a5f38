package app

import (
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sage/config"
)

// NewLogger builds the process logger. PRETTY_LOGS switches to zap's development encoder.
func NewLogger(cfg config.Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build(zap.Fields(zap.String("service", cfg.AppName)))
	if err != nil {
		return nil, nil, err
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}
