package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type CloudStorage struct {
	Provider   string `mapstructure:"provider"`
	Region     string `mapstructure:"region"`
	BucketName string `mapstructure:"bucket_name"`
}

type Config struct {
	APIBaseURL   string        `mapstructure:"api_base_url"`
	APITimeout   time.Duration `mapstructure:"api_timeout"`
	AgentID      string        `mapstructure:"agent_id"`
	DeviceID     string        `mapstructure:"device_id"`
	AuthToken    string        `mapstructure:"auth_token"`
	UserAgent    string        `mapstructure:"user_agent"`
	OTPLength    int           `mapstructure:"otp_length"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// journal output
	OutputDestination string        `mapstructure:"output_destination"` // console, json, parquet, kafka, postgres, none
	OutputPath        string        `mapstructure:"output_path"`
	OutputFolder      string        `mapstructure:"output_folder"`
	KafkaBrokerList   string        `mapstructure:"kafka_broker_list"`
	KafkaTopicPrefix  string        `mapstructure:"kafka_topic_prefix"`
	PostgresDSN       string        `mapstructure:"postgres_dsn"`
	CloudStorage      CloudStorage  `mapstructure:"cloud_storage"`
	JournalBatchSize  int           `mapstructure:"journal_batch_size"`
	JournalFlushEvery time.Duration `mapstructure:"journal_flush_every"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("api_timeout", 15*time.Second)
	v.SetDefault("agent_id", "")
	v.SetDefault("device_id", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("user_agent", "foodagent/1.0")
	v.SetDefault("otp_length", DefaultOTPLength)
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("output_destination", "none")
	v.SetDefault("output_path", "")
	v.SetDefault("output_folder", "journal")
	v.SetDefault("kafka_broker_list", "localhost:9092")
	v.SetDefault("kafka_topic_prefix", "foodagent")
	v.SetDefault("cloud_storage.provider", "s3")
	v.SetDefault("cloud_storage.region", "us-east-1")
	v.SetDefault("cloud_storage.bucket_name", "")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("journal_batch_size", 50)
	v.SetDefault("journal_flush_every", 2*time.Second)
}

// LoadConfig initializes and reads the configuration using Viper
func LoadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if v.ConfigFileUsed() == "" {
		v.AddConfigPath(".")
		v.SetConfigName(".foodagent")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FOODAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	decoderConfigOption := viper.DecoderConfigOption(func(config *mapstructure.DecoderConfig) {
		config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := v.Unmarshal(&config, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("config: api_base_url is required")
	}
	if c.OTPLength <= 0 {
		return fmt.Errorf("config: otp_length must be positive, got %d", c.OTPLength)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %s", c.PollInterval)
	}
	switch c.OutputDestination {
	case "", "none", "console", "json", "parquet", "kafka", "postgres":
	default:
		return fmt.Errorf("config: unsupported output_destination %q", c.OutputDestination)
	}
	return nil
}
