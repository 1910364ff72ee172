package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"option_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	envPrefix         = "OPTION_BOT"
)

// Config ...
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Webhook struct {
		Secret  string        `yaml:"secret"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"webhook"`

	DB string `yaml:"db_dsn"`

	Store struct {
		Driver     string `yaml:"driver"` // postgres | sqlite | memory
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`

	Tracing struct {
		Host       string  `yaml:"host"`
		Port       int     `yaml:"port"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Broker struct {
		Kind      string        `yaml:"kind"`      // deribit | paper
		Transport string        `yaml:"transport"` // http | ws
		URL       string        `yaml:"url"`
		TestURL   string        `yaml:"test_url"`
		WSURL     string        `yaml:"ws_url"`
		TestWSURL string        `yaml:"test_ws_url"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"broker"`

	Execution struct {
		MaxSteps       int           `yaml:"max_steps"`
		StepTimeout    time.Duration `yaml:"step_timeout"`
		RatioThreshold float64       `yaml:"ratio_threshold"`
		TickThreshold  float64       `yaml:"tick_threshold"`
		CheckRatio     bool          `yaml:"check_ratio"`
		CheckTicks     bool          `yaml:"check_ticks"`
	} `yaml:"execution"`

	Selection struct {
		Mode        string        `yaml:"mode"` // chain_scan | nearest_expiry
		DeltaBuffer float64       `yaml:"delta_buffer"`
		Candidates  int           `yaml:"candidates"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
	} `yaml:"selection"`

	Polling struct {
		PositionInterval       time.Duration `yaml:"position_interval"`
		OrderInterval          time.Duration `yaml:"order_interval"`
		InterPositionDelay     time.Duration `yaml:"inter_position_delay"`
		MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
		ROIThreshold           float64       `yaml:"roi_threshold"`
		StartupBurst           bool          `yaml:"startup_burst"`
	} `yaml:"polling"`

	Lifecycle struct {
		StopRatio  float64 `yaml:"stop_ratio"`
		RollMode   string  `yaml:"roll_mode"`
		DefaultDTE int     `yaml:"default_dte"`
	} `yaml:"lifecycle"`

	AccountsFile string           `yaml:"accounts_file"`
	Accounts     []models.Account `yaml:"-"`
}

var defaults = map[string]any{
	"service.name":        "option_bot",
	"service.host":        "0.0.0.0",
	"service.public_port": 8080,
	"service.admin_port":  8081,

	"log.level":       "info",
	"log.development": false,

	"telegram.token":   "",
	"telegram.chat_id": 0,

	"webhook.secret":  "",
	"webhook.timeout": "90s",

	"db_dsn":            "",
	"store.driver":      "memory",
	"store.sqlite_path": "option_bot.db",

	"tracing.host":        "",
	"tracing.port":        6831,
	"tracing.sample_rate": 1.0,

	"broker.kind":        "paper",
	"broker.transport":   "http",
	"broker.url":         "https://www.deribit.com/api/v2",
	"broker.test_url":    "https://test.deribit.com/api/v2",
	"broker.ws_url":      "wss://www.deribit.com/ws/api/v2",
	"broker.test_ws_url": "wss://test.deribit.com/ws/api/v2",
	"broker.timeout":     "10s",

	"execution.max_steps":       3,
	"execution.step_timeout":    "8s",
	"execution.ratio_threshold": 0.15,
	"execution.tick_threshold":  2.0,
	"execution.check_ratio":     true,
	"execution.check_ticks":     false,

	"selection.mode":         "chain_scan",
	"selection.delta_buffer": 1.1,
	"selection.candidates":   3,
	"selection.cache_ttl":    "5m",

	"polling.position_interval":        "15m",
	"polling.order_interval":           "5m",
	"polling.inter_position_delay":     "2s",
	"polling.max_consecutive_failures": 5,
	"polling.roi_threshold":            0.85,
	"polling.startup_burst":            true,

	"lifecycle.stop_ratio":  0.5,
	"lifecycle.roll_mode":   "nearest_expiry",
	"lifecycle.default_dte": 7,

	"accounts_file": "configs/accounts.yaml",
}

func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	return Load(filepath.Join("configs", configFileName))
}

// Load читает yaml через viper (дефолты + OPTION_BOT_* из окружения),
// затем раскладывает итоговые настройки в Config через yaml.v2.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram.token", tokenTelegramENV)
	_ = v.BindEnv("db_dsn", databaseDSN)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	settings := make(map[string]any, len(defaults))
	for _, k := range v.AllKeys() {
		setNested(settings, strings.Split(k, "."), typed(v, k))
	}
	bs, err := yaml.Marshal(settings)
	if err != nil {
		return nil, errors.Wrap(err, "marshal settings")
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(bs, cfg); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}

	if cfg.AccountsFile != "" {
		accounts, err := LoadAccounts(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		cfg.Accounts = accounts
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setNested кладёт значение по пути ключа; env-переопределения viper
// видны только через Get, поэтому AllSettings здесь не подходит.
func setNested(m map[string]any, path []string, val any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = val
}

// typed приводит значение к типу дефолта: из окружения всё приходит строкой.
func typed(v *viper.Viper, key string) any {
	switch defaults[key].(type) {
	case int:
		return v.GetInt64(key)
	case float64:
		return v.GetFloat64(key)
	case bool:
		return v.GetBool(key)
	default:
		return v.Get(key)
	}
}

type accountsFile struct {
	Accounts []models.Account `yaml:"accounts"`
}

// LoadAccounts читает список аккаунтов; ${VAR} в файле берутся из окружения.
func LoadAccounts(path string) ([]models.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read accounts %s", path)
	}
	var f accountsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &f); err != nil {
		return nil, errors.Wrapf(err, "decode accounts %s", path)
	}
	for i := range f.Accounts {
		a := &f.Accounts[i]
		if a.Currency == "" {
			a.Currency = "BTC"
		}
		a.Currency = strings.ToUpper(a.Currency)
		if a.OptionSide == "" {
			a.OptionSide = models.Buy
		}
	}
	return f.Accounts, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.DB == "" {
			return errors.New("store.driver=postgres requires db_dsn")
		}
	default:
		return errors.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Broker.Kind {
	case "paper", "deribit":
	default:
		return errors.Errorf("unknown broker.kind %q", c.Broker.Kind)
	}
	switch c.Broker.Transport {
	case "http", "ws":
	default:
		return errors.Errorf("unknown broker.transport %q", c.Broker.Transport)
	}
	switch c.Selection.Mode {
	case "chain_scan", "nearest_expiry":
	default:
		return errors.Errorf("unknown selection.mode %q", c.Selection.Mode)
	}
	switch c.Lifecycle.RollMode {
	case "chain_scan", "nearest_expiry":
	default:
		return errors.Errorf("unknown lifecycle.roll_mode %q", c.Lifecycle.RollMode)
	}
	if !c.Execution.CheckRatio && !c.Execution.CheckTicks {
		return errors.New("at least one of execution.check_ratio / check_ticks must be on")
	}
	if c.Lifecycle.StopRatio <= 0 || c.Lifecycle.StopRatio > 1 {
		return errors.Errorf("lifecycle.stop_ratio must be in (0,1], got %v", c.Lifecycle.StopRatio)
	}

	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Name == "" {
			return errors.New("account without name")
		}
		if seen[a.Name] {
			return errors.Errorf("duplicate account %q", a.Name)
		}
		seen[a.Name] = true
		if a.OptionSide != models.Buy && a.OptionSide != models.Sell {
			return errors.Errorf("account %s: option_direction must be buy or sell", a.Name)
		}
		if a.Enabled && c.Broker.Kind == "deribit" && (a.ClientID == "" || a.ClientSecret == "") {
			return errors.Errorf("account %s: client_id and client_secret are required", a.Name)
		}
	}
	return nil
}
