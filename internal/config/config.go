package config

import (
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/satsworks/satsagent/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort       string
	DataDir        string
	BTCNetworkType string
	Network        *chaincfg.Params
	EsploraURL     string

	PollInterval time.Duration
	SettleDelay  time.Duration
	FlatFeeSats  int64
	JobPriceSats int64

	LLMURL          string
	LLMAPIKey       string
	LLMModel        string
	LLMTimeout      time.Duration
	LLMSystemPrompt string
	ContextWindow   int

	AgentAddress  string
	AwaitTimeout  time.Duration
	AwaitInterval time.Duration

	AuthJwtSecret string
	AddressSalt   string
	LogLevel      logrus.Level
}

// LoadConfig reads the environment (plus an optional .env file) into an
// explicit Config passed by reference into every component.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("No .env file loaded: %v", err)
	}
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("DATA_DIR", "./data")
	viper.SetDefault("BTC_NETWORK_TYPE", "mainnet")
	viper.SetDefault("ESPLORA_URL", "https://blockstream.info/api")
	viper.SetDefault("POLL_INTERVAL", "20s")
	viper.SetDefault("SETTLE_DELAY", "3s")
	viper.SetDefault("FLAT_FEE_SATS", 1000)
	viper.SetDefault("JOB_PRICE_SATS", 3000)
	viper.SetDefault("LLM_URL", "https://api.openai.com/v1")
	viper.SetDefault("LLM_API_KEY", "")
	viper.SetDefault("LLM_MODEL", "gpt-4o-mini")
	viper.SetDefault("LLM_TIMEOUT", "60s")
	viper.SetDefault("LLM_SYSTEM_PROMPT", "You are an autonomous agent paid in bitcoin. Answer the prompt you were paid to answer, concisely.")
	viper.SetDefault("CONTEXT_WINDOW", 8)
	viper.SetDefault("AGENT_ADDRESS", "")
	viper.SetDefault("AWAIT_TIMEOUT", "120s")
	viper.SetDefault("AWAIT_INTERVAL", "5s")
	viper.SetDefault("AUTH_JWT_SECRET", "")
	viper.SetDefault("ADDRESS_SALT", "satsagent")
	viper.SetDefault("LOG_LEVEL", "info")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	cfg := &Config{
		HTTPPort:        viper.GetString("HTTP_PORT"),
		DataDir:         viper.GetString("DATA_DIR"),
		BTCNetworkType:  viper.GetString("BTC_NETWORK_TYPE"),
		Network:         types.GetBTCNetwork(viper.GetString("BTC_NETWORK_TYPE")),
		EsploraURL:      viper.GetString("ESPLORA_URL"),
		PollInterval:    viper.GetDuration("POLL_INTERVAL"),
		SettleDelay:     viper.GetDuration("SETTLE_DELAY"),
		FlatFeeSats:     viper.GetInt64("FLAT_FEE_SATS"),
		JobPriceSats:    viper.GetInt64("JOB_PRICE_SATS"),
		LLMURL:          viper.GetString("LLM_URL"),
		LLMAPIKey:       viper.GetString("LLM_API_KEY"),
		LLMModel:        viper.GetString("LLM_MODEL"),
		LLMTimeout:      viper.GetDuration("LLM_TIMEOUT"),
		LLMSystemPrompt: viper.GetString("LLM_SYSTEM_PROMPT"),
		ContextWindow:   viper.GetInt("CONTEXT_WINDOW"),
		AgentAddress:    viper.GetString("AGENT_ADDRESS"),
		AwaitTimeout:    viper.GetDuration("AWAIT_TIMEOUT"),
		AwaitInterval:   viper.GetDuration("AWAIT_INTERVAL"),
		AuthJwtSecret:   viper.GetString("AUTH_JWT_SECRET"),
		AddressSalt:     viper.GetString("ADDRESS_SALT"),
		LogLevel:        logLevel,
	}

	if cfg.FlatFeeSats <= 0 {
		logrus.Warnf("Flat fee %d is not positive, set to 1000", cfg.FlatFeeSats)
		cfg.FlatFeeSats = 1000
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 8
	}

	logrus.Infof("Init config, network %s, esplora %s, poll interval %v, flat fee %d sats",
		cfg.BTCNetworkType, cfg.EsploraURL, cfg.PollInterval, cfg.FlatFeeSats)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(cfg.LogLevel)

	return cfg
}
