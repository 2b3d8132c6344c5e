package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"trade_engine/internal/broker/okx"
	"trade_engine/internal/classifier"
	"trade_engine/internal/models"
	"trade_engine/internal/strategy"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	envPrefix         = "TRADE"
)

// секреты живут в окружении без префикса
var secretEnv = map[string]string{
	"telegram.token":        "TELEGRAM_TOKEN",
	"db_dsn":                "DATABASE_DSN",
	"broker.okx.api_key":    "OKX_API_KEY",
	"broker.okx.api_secret": "OKX_API_SECRET",
	"broker.okx.passphrase": "OKX_PASSPHRASE",
}

type Config struct {
	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`

	Logger  logger.Config  `yaml:"logger"`
	Tracing tracing.Config `yaml:"tracing"`
	DB      string         `yaml:"db_dsn"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Broker     BrokerConfig      `yaml:"broker"`
	Events     EventsConfig      `yaml:"events"`
	Classifier classifier.Config `yaml:"classifier"`

	BotsFile string `yaml:"bots_file"`
}

type BrokerConfig struct {
	Kind  string     `yaml:"kind"` // okx | paper
	RPS   float64    `yaml:"rps"`  // общий лимит на все боты поверх лимита клиента
	Burst int        `yaml:"burst"`
	OKX   okx.Config `yaml:"okx"`
}

type EventsConfig struct {
	Store      string        `yaml:"store"` // postgres | sqlite | none
	SQLitePath string        `yaml:"sqlite_path"`
	Buffer     int           `yaml:"buffer"`
	BatchSize  int           `yaml:"batch_size"`
	Flush      time.Duration `yaml:"flush"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.admin_port", 8080)

	v.SetDefault("logger.service", "trade_engine")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("tracing.service_name", "trade_engine")
	v.SetDefault("tracing.host", "")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("tracing.disabled", false)

	v.SetDefault("db_dsn", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("broker.kind", "paper")
	v.SetDefault("broker.rps", 20)
	v.SetDefault("broker.burst", 10)
	v.SetDefault("broker.okx.simulated", true)
	v.SetDefault("broker.okx.td_mode", "cross")

	v.SetDefault("events.store", "sqlite")
	v.SetDefault("events.sqlite_path", "data/events.db")
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("events.batch_size", 64)
	v.SetDefault("events.flush", "2s")

	v.SetDefault("classifier.enabled", false)

	v.SetDefault("bots_file", "configs/bots.yaml")
}

// NewConfig читает configs/$CONFIG_FILE, поверх: TRADE_* и секреты из окружения.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	dir := os.Getenv(configDirENV)
	if dir == "" {
		dir = "configs"
	}
	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = "values_local.yaml"
	}
	return Load(filepath.Join(dir, name))
}

// Load: то же, что NewConfig, но с явным путём. Отсутствующий файл не ошибка.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range secretEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config.Load: bind %s: %w", env, err)
		}
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
				return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("config.Load: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Broker.Kind {
	case "okx", "paper":
	default:
		return fmt.Errorf("config: unknown broker.kind %q", c.Broker.Kind)
	}
	switch c.Events.Store {
	case "postgres":
		if c.DB == "" {
			return fmt.Errorf("config: events.store=postgres requires db_dsn")
		}
	case "sqlite", "none":
	default:
		return fmt.Errorf("config: unknown events.store %q", c.Events.Store)
	}
	if c.Classifier.Enabled && c.Classifier.ModelPath == "" {
		return fmt.Errorf("config: classifier.enabled requires model_path")
	}
	return nil
}

type botsFile struct {
	Bots []models.BotConfig `yaml:"bots"`
}

// LoadBots читает описания ботов. Каждый получает дефолты и проверяется.
func LoadBots(path string) ([]models.BotConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config.LoadBots: %w", err)
	}

	var f botsFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("config.LoadBots: %s: %w", path, err)
	}

	symbols := make(map[string]string, len(f.Bots))
	for i := range f.Bots {
		b := &f.Bots[i]
		b.ApplyDefaults()
		b.MinConfidence = strategy.NormalizeConfidence(b.MinConfidence)
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("config.LoadBots: %w", err)
		}
		if other, ok := symbols[b.Symbol]; ok {
			return nil, fmt.Errorf("config.LoadBots: bots %q and %q share symbol %s", other, b.Name, b.Symbol)
		}
		symbols[b.Symbol] = b.Name
	}
	return f.Bots, nil
}
