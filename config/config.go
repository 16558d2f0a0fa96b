package config

import (
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// MonadTestnetChainID is 0x279f.
const MonadTestnetChainID = 10143

type Config struct {
	RPCURL        string `env:"RPC_URL,required"`
	WSURL         string `env:"WS_URL"`
	ContractAddr  string `env:"CONTRACT_ADDR,required"`
	ChainID       int64  `env:"CHAIN_ID" envDefault:"10143"`
	PlayerKey     string `env:"PLAYER_KEY"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	ListenAddr    string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`
	TuningFile    string `env:"TUNING_FILE"`

	Tuning Tuning
}

// Tuning holds the timing and sizing knobs of the flip lifecycle.
type Tuning struct {
	PollInterval          time.Duration
	FallbackCheckInterval time.Duration
	FallbackDeadline      time.Duration
	PoolRefreshInterval   time.Duration
	HistorySize           int
	PageSize              int
	GasLimit              uint64
}

func DefaultTuning() Tuning {
	return Tuning{
		PollInterval:          5 * time.Second,
		FallbackCheckInterval: 4 * time.Second,
		FallbackDeadline:      12 * time.Second,
		PoolRefreshInterval:   7 * time.Second,
		HistorySize:           1000,
		PageSize:              15,
		GasLimit:              600000,
	}
}

// Load reads .env (if present), the environment and the optional tuning file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse ENV vars")
	}

	tuning, err := LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, err
	}
	cfg.Tuning = tuning

	return cfg, nil
}

// GetConfig is Load for callers that cannot continue without a config.
func GetConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal("Cannot load config: ", err)
	}
	return *cfg
}

// LoadTuning merges the file at path (any format viper understands) over
// DefaultTuning. An empty path yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	def := DefaultTuning()

	v := viper.New()
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("fallback_check_interval", def.FallbackCheckInterval)
	v.SetDefault("fallback_deadline", def.FallbackDeadline)
	v.SetDefault("pool_refresh_interval", def.PoolRefreshInterval)
	v.SetDefault("history_size", def.HistorySize)
	v.SetDefault("page_size", def.PageSize)
	v.SetDefault("gas_limit", def.GasLimit)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return def, errors.Wrapf(err, "cannot read tuning file %s", path)
		}
	}

	t := Tuning{
		PollInterval:          v.GetDuration("poll_interval"),
		FallbackCheckInterval: v.GetDuration("fallback_check_interval"),
		FallbackDeadline:      v.GetDuration("fallback_deadline"),
		PoolRefreshInterval:   v.GetDuration("pool_refresh_interval"),
		HistorySize:           v.GetInt("history_size"),
		PageSize:              v.GetInt("page_size"),
		GasLimit:              v.GetUint64("gas_limit"),
	}
	if err := t.validate(); err != nil {
		return def, err
	}
	return t, nil
}

func (t Tuning) validate() error {
	switch {
	case t.PollInterval <= 0:
		return errors.New("poll_interval must be positive")
	case t.FallbackCheckInterval <= 0:
		return errors.New("fallback_check_interval must be positive")
	case t.FallbackDeadline <= 0:
		return errors.New("fallback_deadline must be positive")
	case t.PoolRefreshInterval <= 0:
		return errors.New("pool_refresh_interval must be positive")
	case t.HistorySize <= 0 || t.HistorySize > 1000:
		return errors.New("history_size must be within 1..1000")
	case t.PageSize <= 0:
		return errors.New("page_size must be positive")
	case t.GasLimit == 0:
		return errors.New("gas_limit must be positive")
	}
	return nil
}
