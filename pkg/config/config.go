package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Image      ImageConfig      `mapstructure:"image"`
	Assistant  AssistantConfig  `mapstructure:"assistant"`
	Log        LogConfig        `mapstructure:"log"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type ClassifierConfig struct {
	// AmbiguousMinLength is the rune count below which ambiguous
	// utterances are treated as chat without asking the model.
	AmbiguousMinLength int    `mapstructure:"ambiguous_min_length"`
	HistoryWindow      int    `mapstructure:"history_window"`
	Model              string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	BaseURL         string   `mapstructure:"base_url"`
	Model           string   `mapstructure:"model"`
	ReasoningModels []string `mapstructure:"reasoning_models"`
	TitleModel      string   `mapstructure:"title_model"`
	VisionModel     string   `mapstructure:"vision_model"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	Temperature     float64  `mapstructure:"temperature"`
}

type ImageConfig struct {
	// Provider is "openai" or "external".
	Provider string        `mapstructure:"provider"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AssistantConfig struct {
	AgencyName       string        `mapstructure:"agency_name"`
	AssistantName    string        `mapstructure:"assistant_name"`
	Tone             string        `mapstructure:"tone"`
	Instructions     string        `mapstructure:"instructions"`
	ContextTokens    int           `mapstructure:"context_tokens"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("classifier.ambiguous_min_length", 25)
	v.SetDefault("classifier.history_window", 3)
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.reasoning_models", []string{"o1", "o3-mini", "deepseek-r1"})
	v.SetDefault("openai.title_model", "gpt-4o-mini")
	v.SetDefault("openai.vision_model", "gpt-4o")
	v.SetDefault("openai.max_tokens", 1500)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("image.provider", "openai")
	v.SetDefault("image.model", "dall-e-3")
	v.SetDefault("image.width", 1024)
	v.SetDefault("image.height", 1024)
	v.SetDefault("image.timeout", 60*time.Second)
	v.SetDefault("assistant.agency_name", "Agência")
	v.SetDefault("assistant.assistant_name", "Assistente")
	v.SetDefault("assistant.tone", "amigável e profissional")
	v.SetDefault("assistant.context_tokens", 3000)
	v.SetDefault("assistant.snapshot_interval", 800*time.Millisecond)
	v.SetDefault("log.level", "info")
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if apiKey := v.GetString("IMAGE_API_KEY"); apiKey != "" {
		config.Image.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the fields the bot cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.api_key is required"))
	}
	switch c.Image.Provider {
	case "openai":
	case "external":
		if c.Image.BaseURL == "" {
			errs = append(errs, errors.New("image.base_url is required for the external provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown image.provider %q", c.Image.Provider))
	}
	if c.Image.Timeout <= 0 {
		errs = append(errs, errors.New("image.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// IsReasoningModel reports whether model streams reasoning fragments worth showing.
func (c *OpenAIConfig) IsReasoningModel(model string) bool {
	for _, m := range c.ReasoningModels {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}
