package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
)

const envLogLevel = "CHECKOUT_LOG_LEVEL"

type envLookup func(key string) (string, bool)

// readConfig читает конфигурацию из переменных окружения CHECKOUT_*.
// Значение, которое не разбирается в тип поля, прерывает запуск; диапазоны проверяет app.Config.Validate.
func readConfig() (app.Config, error) {
	var cfg app.Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return app.Config{}, fmt.Errorf("read config from env: %w", err)
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

// normalizeConfig убирает пробелы вокруг строковых значений, драйвер приводится к нижнему регистру.
func normalizeConfig(cfg *app.Config) {
	for _, field := range []*string{
		&cfg.GRPCAddr,
		&cfg.MetricsAddr,
		&cfg.PostgresDSN,
		&cfg.RedisAddr,
		&cfg.KafkaBrokers,
		&cfg.KafkaTopic,
		&cfg.SeedFile,
	} {
		*field = strings.TrimSpace(*field)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
}

// writeUsage печатает список поддерживаемых переменных окружения.
func writeUsage(w io.Writer) error {
	header := "Environment variables of checkout OrderService:"
	text, err := cleanenv.GetDescription(&app.Config{}, &header)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n  %s string\n    \tlogrus level (default %q)\n", text, envLogLevel, log.InfoLevel.String())
	return err
}

// parseLogLevel возвращает уровень из CHECKOUT_LOG_LEVEL или InfoLevel.
func parseLogLevel(lookup envLookup) (log.Level, error) {
	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return log.InfoLevel, err
	}
	return level, nil
}
