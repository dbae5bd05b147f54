package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Providers struct {
		OpenAI struct {
			APIKey  string        `mapstructure:"API_KEY"`
			Model   string        `mapstructure:"MODEL"`
			BaseURL string        `mapstructure:"BASE_URL"`
			Timeout time.Duration `mapstructure:"TIMEOUT"`
		} `mapstructure:"OPENAI"`
		Gemini struct {
			APIKey string `mapstructure:"API_KEY"`
			Model  string `mapstructure:"MODEL"`
		} `mapstructure:"GEMINI"`
	} `mapstructure:"PROVIDERS"`
	APNs struct {
		KeyPath  string `mapstructure:"KEY_PATH"`
		KeyID    string `mapstructure:"KEY_ID"`
		TeamID   string `mapstructure:"TEAM_ID"`
		BundleID string `mapstructure:"BUNDLE_ID"`
	} `mapstructure:"APNS"`
	SMTP struct {
		Host     string `mapstructure:"HOST"`
		Port     int    `mapstructure:"PORT"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		From     string `mapstructure:"FROM"`
	} `mapstructure:"SMTP"`
	Minio struct {
		Enable     bool   `mapstructure:"ENABLE"`
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		BucketName string `mapstructure:"BUCKET_NAME"`
		Secure     bool   `mapstructure:"SECURE"`
	} `mapstructure:"MINIO"`
	Report struct {
		PreviewBaseURL string `mapstructure:"PREVIEW_BASE_URL"`
		NarrativeModel string `mapstructure:"NARRATIVE_MODEL"`
	} `mapstructure:"REPORT"`
	Credits struct {
		LowBalanceThreshold int64 `mapstructure:"LOW_BALANCE_THRESHOLD"`
	} `mapstructure:"CREDITS"`
	Bootstrap struct {
		UserID    string `mapstructure:"USER_ID"`
		UserEmail string `mapstructure:"USER_EMAIL"`
		PlanID    string `mapstructure:"PLAN_ID"`
	} `mapstructure:"BOOTSTRAP"`
}

func LoadConfig() *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		zap.L().Warn("no config file found, relying on env", zap.Error(err))
	}

	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
	}

	return cfg
}

func defaults() *Config {
	cfg := &Config{}
	cfg.AppEnv = "development"
	cfg.AppName = "kull-server"
	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 120 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Providers.OpenAI.Model = "gpt-5"
	cfg.Providers.OpenAI.BaseURL = "https://api.openai.com/v1"
	cfg.Providers.OpenAI.Timeout = 90 * time.Second
	cfg.Providers.Gemini.Model = "gemini-2.5-flash"
	cfg.APNs.BundleID = "com.kull.app"
	cfg.Report.NarrativeModel = "gpt-5-nano"
	cfg.Credits.LowBalanceThreshold = 500
	cfg.Bootstrap.UserID = "local"
	cfg.Bootstrap.PlanID = "free"
	return cfg
}
