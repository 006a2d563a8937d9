/*
Package config loads runtime configuration.

PURPOSE:
  One place for everything tunable at deploy time: HTTP port, database path,
  scheduler settings, and notification credentials. Values come from the
  environment (RISK_ prefix), optionally seeded from a local .env file.

PRECEDENCE:
  defaults < .env file < real environment variables

NOTIFICATION CREDENTIALS:
  SendGrid and Twilio are both optional. When a credential set is absent the
  server falls back to the console transport for that channel (or disables
  it), so a local checkout runs with zero configuration.
*/
package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	AppName string
	Port    int
	DBPath  string

	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	SendGridKey       string
	DefaultFromEmail  string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
}

// Load reads configuration from the environment, seeded from .env when one
// exists next to the working directory.
func Load() Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "Early Risk Alerts")
	v.SetDefault("port", 8080)
	v.SetDefault("dbPath", "./data/risk.db")
	v.SetDefault("schedulerEnabled", true)
	v.SetDefault("schedulerInterval", time.Hour)
	v.SetDefault("sendgridKey", "")
	v.SetDefault("defaultFromEmail", "alerts@localhost")
	v.SetDefault("twilioAccountSID", "")
	v.SetDefault("twilioAuthToken", "")
	v.SetDefault("twilioFromNumber", "")

	// load .env if it exists (ignore if it does not)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Fatalf("config: loading .env: %v", err)
		}
	}

	v.SetEnvPrefix("RISK")
	v.AutomaticEnv()

	return Config{
		AppName:           v.GetString("appName"),
		Port:              v.GetInt("port"),
		DBPath:            v.GetString("dbPath"),
		SchedulerEnabled:  v.GetBool("schedulerEnabled"),
		SchedulerInterval: v.GetDuration("schedulerInterval"),
		SendGridKey:       v.GetString("sendgridKey"),
		DefaultFromEmail:  v.GetString("defaultFromEmail"),
		TwilioAccountSID:  v.GetString("twilioAccountSID"),
		TwilioAuthToken:   v.GetString("twilioAuthToken"),
		TwilioFromNumber:  v.GetString("twilioFromNumber"),
	}
}
