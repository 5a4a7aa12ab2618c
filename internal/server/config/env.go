package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// dotEnvFile is loaded before reading the environment. Variables already set
// in the process environment win over the file.
var dotEnvFile = ".env"

// parseEnv overlays values from environment variables. Secrets are expected
// to arrive this way rather than on the command line.
//
//	STUDYRENT_HTTP_ADDR, STUDYRENT_DATABASE_DSN, STUDYRENT_SECRET_KEY,
//	STUDYRENT_S3_ROOT_USER, STUDYRENT_S3_ROOT_PASSWORD, STUDYRENT_S3_BUCKET,
//	STUDYRENT_LOG_LEVEL, STUDYRENT_SWEEP_INTERVAL,
//	STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET, STRIPE_RENT_PRODUCT_ID
func parseEnv(config *Config) {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	setString(&config.HTTPAddr, os.Getenv("STUDYRENT_HTTP_ADDR"))
	setString(&config.DatabaseDSN, os.Getenv("STUDYRENT_DATABASE_DSN"))
	setString(&config.SecretKey, os.Getenv("STUDYRENT_SECRET_KEY"))
	setString(&config.S3RootUser, os.Getenv("STUDYRENT_S3_ROOT_USER"))
	setString(&config.S3RootPassword, os.Getenv("STUDYRENT_S3_ROOT_PASSWORD"))
	setString(&config.S3Bucket, os.Getenv("STUDYRENT_S3_BUCKET"))
	setString(&config.LogLevel, os.Getenv("STUDYRENT_LOG_LEVEL"))
	setString(&config.StripeSecretKey, os.Getenv("STRIPE_SECRET_KEY"))
	setString(&config.StripeWebhookSecret, os.Getenv("STRIPE_WEBHOOK_SECRET"))
	setString(&config.RentProductID, os.Getenv("STRIPE_RENT_PRODUCT_ID"))

	if v := os.Getenv("STUDYRENT_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		config.SweepInterval = d
	}
}
