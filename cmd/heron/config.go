package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// defaultSeedFile is used when HERON_RULES_FILE is unset.
const defaultSeedFile = "configs/rules.yaml"

// loadConfig reads an optional .env file and builds the configuration for
// the selected tier with HERON_* overrides applied.
func loadConfig() (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := domain.DefaultConfig()
	if os.Getenv("HERON_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}
	cfg.Rules.SeedFile = defaultSeedFile

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from HERON_* environment variables.
func applyEnv(cfg *domain.Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HERON_HOST", &cfg.Server.Host)
	str("HERON_DB_DRIVER", &cfg.Repository.Driver)
	str("HERON_DB_PATH", &cfg.Repository.SQLitePath)
	str("HERON_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	str("HERON_POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("HERON_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("HERON_POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("HERON_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)
	str("HERON_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("HERON_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	str("HERON_NATS_URL", &cfg.EventBus.NATSUrl)
	str("HERON_NATS_TOKEN", &cfg.EventBus.NATSToken)
	str("HERON_MONITOR_GROUP", &cfg.EventBus.MonitorGroup)
	str("HERON_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("HERON_RULES_FILE", &cfg.Rules.SeedFile)

	if err := num("HERON_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := num("HERON_POSTGRES_PORT", &cfg.Repository.PostgresPort); err != nil {
		return err
	}

	if v, ok := os.LookupEnv("HERON_ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("HERON_ALERT_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 100 {
			return fmt.Errorf("HERON_ALERT_THRESHOLD must be a number in [0,100], got %q", v)
		}
		cfg.Risk.AlertThreshold = f
	}
	if v, ok := os.LookupEnv("HERON_MONITOR"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HERON_MONITOR must be a boolean: %w", err)
		}
		cfg.Risk.MonitorTransactions = b
	}
	if v, ok := os.LookupEnv("HERON_HIGH_RISK_COUNTRIES"); ok {
		cfg.Risk.HighRiskCountries = strings.Split(v, ",")
	}
	return nil
}

// seedRules stores every rule from the seed file that the store does not
// know yet, then loads the stored catalog. Rules edited through the API are
// never overwritten by the seed.
func seedRules(ctx context.Context, repo domain.Repository, catalog *rules.Catalog, path string) error {
	if path != "" {
		seeded, err := rules.LoadSeedFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("rule seed file not found - configure rules via POST /rules", "path", path)
		case err != nil:
			return err
		default:
			added := 0
			for _, rule := range seeded {
				if _, err := repo.GetRule(ctx, rule.RuleID); err == nil {
					continue
				} else if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				if err := catalog.Validate(rule); err != nil {
					return err
				}
				rule.ID = uuid.New().String()
				if err := repo.SaveRule(ctx, rule); err != nil {
					return fmt.Errorf("failed to seed rule %s: %w", rule.RuleID, err)
				}
				added++
			}
			slog.Info("rule seed applied", "path", path, "rules", len(seeded), "added", added)
		}
	}

	stored, err := repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	return catalog.Load(stored)
}
