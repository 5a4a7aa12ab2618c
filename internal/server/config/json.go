package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/flagx"
	"github.com/dmitrijs2005/studyrent/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Durations accept both strings
// such as "15m" and integer nanoseconds. Empty fields leave the current
// value untouched.
type JsonConfig struct {
	HTTPAddr                     string         `json:"http_addr"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
	StripeSecretKey              string         `json:"stripe_secret_key"`
	StripeWebhookSecret          string         `json:"stripe_webhook_secret"`
	StripeWebhookTolerance       timex.Duration `json:"stripe_webhook_tolerance"`
	Currency                     string         `json:"currency"`
	RentProductID                string         `json:"rent_product_id"`
	ProviderTimeout              timex.Duration `json:"provider_timeout"`
	SweepInterval                timex.Duration `json:"sweep_interval"`
	LogLevel                     string         `json:"log_level"`
}

// parseJson loads the file named by -c/-config, if any, into config.
// An unreadable file or invalid JSON panics: the server must not start on a
// half-applied configuration.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFilePath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.StripeSecretKey, c.StripeSecretKey)
	setString(&config.StripeWebhookSecret, c.StripeWebhookSecret)
	setDuration(&config.StripeWebhookTolerance, c.StripeWebhookTolerance)
	setString(&config.Currency, c.Currency)
	setString(&config.RentProductID, c.RentProductID)
	setDuration(&config.ProviderTimeout, c.ProviderTimeout)
	setDuration(&config.SweepInterval, c.SweepInterval)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
