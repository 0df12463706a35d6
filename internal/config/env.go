package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "SCOUTLINE"

// LoadDotEnv loads <workspace>/.env if present. Variables already set in the
// process environment win.
func LoadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overlays secrets and a few operational knobs from the environment.
// A nil v uses a fresh viper bound to EnvPrefix.
func (c *Config) ApplyEnv(v *viper.Viper) error {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
	str("cron_secret", &c.Auth.CronSecret)
	str("jwt_secret", &c.Auth.JWTSecret)
	str("ebay_client_id", &c.Marketplace.ClientID)
	str("ebay_client_secret", &c.Marketplace.ClientSecret)
	str("telegram_token", &c.Notify.Telegram.Token)
	str("telegram_chat_id", &c.Notify.Telegram.ChatID)
	str("addr", &c.Server.Addr)
	str("log_level", &c.Logging.Level)
	if ops := v.GetString("operators"); ops != "" {
		c.Auth.Operators = nil
		for _, op := range strings.Split(ops, ",") {
			if op = strings.TrimSpace(op); op != "" {
				c.Auth.Operators = append(c.Auth.Operators, op)
			}
		}
	}
	return c.Validate()
}
