package config

import (
	"github.com/spf13/viper"
)

// Configuration is environment-driven: in EKS the DB connection variables,
// AWS settings and queue URLs are injected per pod, and the same keys work
// against LocalStack for local development.

type Config struct {
	DBHost               string `mapstructure:"DB_HOST"`
	DBPort               string `mapstructure:"DB_PORT"`
	DBUser               string `mapstructure:"DB_USER"`
	DBPassword           string `mapstructure:"DB_PASSWORD"`
	DBName               string `mapstructure:"DB_NAME"`
	ServerPort           string `mapstructure:"SERVER_PORT"`
	AWSRegion            string `mapstructure:"AWS_REGION"`
	AWSEndpoint          string `mapstructure:"AWS_ENDPOINT"`
	NotificationSQSURL   string `mapstructure:"NOTIFICATION_SQS_QUEUE_URL"`
	EmailSender          string `mapstructure:"EMAIL_SENDER"`
	ArifpayBaseURL       string `mapstructure:"ARIFPAY_BASE_URL"`
	ArifpayWebhookSecret string `mapstructure:"ARIFPAY_WEBHOOK_SECRET"`
	APIBaseURL           string `mapstructure:"API_BASE_URL"`
	PayoutDryRun         bool   `mapstructure:"PAYOUT_DRY_RUN"`
	StuckThresholdHours  int    `mapstructure:"STUCK_THRESHOLD_HOURS"`
	FailedRetentionDays  int    `mapstructure:"FAILED_RETENTION_DAYS"`
	IsLocalDev           bool   `mapstructure:"IS_LOCAL_DEV"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("DB_HOST", "db")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "payroll_db")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("AWS_ENDPOINT", "http://localstack:4566")
	viper.SetDefault("NOTIFICATION_SQS_QUEUE_URL", "http://localstack:4566/000000000000/payout-notification-queue")
	viper.SetDefault("EMAIL_SENDER", "payroll@example.com")
	viper.SetDefault("ARIFPAY_BASE_URL", "https://gateway.arifpay.net/api/sandbox")
	viper.SetDefault("ARIFPAY_WEBHOOK_SECRET", "")
	viper.SetDefault("API_BASE_URL", "http://localhost:8080")
	viper.SetDefault("PAYOUT_DRY_RUN", false)
	viper.SetDefault("STUCK_THRESHOLD_HOURS", 24)
	viper.SetDefault("FAILED_RETENTION_DAYS", 30)
	viper.SetDefault("IS_LOCAL_DEV", false)

	// Read in environment variables that match the keys.
	viper.AutomaticEnv()

	err = viper.Unmarshal(&config)
	return
}
