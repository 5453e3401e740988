// Package config loads service settings from the environment, an optional
// .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "BOOST_CONFIG"

// Settings is the full service configuration.
type Settings struct {
	HTTPAddr       string `yaml:"httpAddr"`
	PostgresDSN    string `yaml:"postgresDSN"`
	ClickHouseDSN  string `yaml:"clickhouseDSN"`
	UseMemory      bool   `yaml:"useMemory"`
	DeadLetterFile string `yaml:"deadLetterFile"`

	Redis     RedisSettings     `yaml:"redis"`
	Boost     BoostSettings     `yaml:"boost"`
	Solana    SolanaSettings    `yaml:"solana"`
	Exchange  ExchangeSettings  `yaml:"exchange"`
	Sweep     SweepSettings     `yaml:"sweep"`
	Reconcile ReconcileSettings `yaml:"reconcile"`
	API       APISettings       `yaml:"api"`
	Log       LogSettings       `yaml:"log"`
}

type RedisSettings struct {
	Addr      string        `yaml:"addr"` // empty disables Redis
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Channel   string        `yaml:"channel"`
	GuardTTL  time.Duration `yaml:"guardTTL"`
	GuardSize int           `yaml:"guardCacheSize"`
}

// BoostSettings hold the pricing rules in user units.
type BoostSettings struct {
	Slots           int           `yaml:"slots"`
	RatePerHour     float64       `yaml:"ratePerHour"`     // USD
	MinContribution float64       `yaml:"minContribution"` // USD
	MaxDuration     time.Duration `yaml:"maxDuration"`
}

type SolanaSettings struct {
	RPCEndpoint    string        `yaml:"rpcEndpoint"`
	WSEndpoint     string        `yaml:"wsEndpoint"`
	Recipient      string        `yaml:"recipient"`
	Slippage       float64       `yaml:"slippage"`
	PaymentTimeout time.Duration `yaml:"paymentTimeout"`
	RPCRate        float64       `yaml:"rpcRate"` // requests per second, 0 is unlimited
}

type ExchangeSettings struct {
	URL             string        `yaml:"url"`
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	FallbackRate    float64       `yaml:"fallbackRate"`
}

type SweepSettings struct {
	Interval time.Duration `yaml:"interval"`
}

type ReconcileSettings struct {
	Interval    time.Duration `yaml:"interval"`
	Grace       time.Duration `yaml:"grace"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BatchSize   int           `yaml:"batchSize"`
}

type APISettings struct {
	RequestsPerMinute float64       `yaml:"requestsPerMinute"`
	Burst             int           `yaml:"burst"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
}

type LogSettings struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // empty logs to stderr only
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Defaults returns the production defaults.
func Defaults() Settings {
	return Settings{
		HTTPAddr:       ":8080",
		DeadLetterFile: "payments-deadletter.jsonl",
		Redis: RedisSettings{
			Channel:   "boost:events",
			GuardTTL:  24 * time.Hour,
			GuardSize: 4096,
		},
		Boost: BoostSettings{
			Slots:           5,
			RatePerHour:     5,
			MinContribution: 5,
			MaxDuration:     48 * time.Hour,
		},
		Solana: SolanaSettings{
			Slippage:       0.02,
			PaymentTimeout: 60 * time.Second,
		},
		Exchange: ExchangeSettings{
			URL:             "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd",
			TTL:             5 * time.Minute,
			RefreshInterval: time.Minute,
			FallbackRate:    100,
		},
		Sweep: SweepSettings{Interval: 5 * time.Second},
		Reconcile: ReconcileSettings{
			Interval:    time.Minute,
			Grace:       2 * time.Minute,
			MaxAttempts: 5,
			BatchSize:   100,
		},
		API: APISettings{
			RequestsPerMinute: 30,
			Burst:             5,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      90 * time.Second,
		},
		Log: LogSettings{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load builds Settings from defaults, the .env file, the YAML file named by
// BOOST_CONFIG and finally the environment. Flags are applied by the caller.
func Load() (Settings, error) {
	loadEnvFile(".env")

	s := Defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := s.mergeFile(path); err != nil {
			return s, err
		}
	}
	if err := s.applyEnv(os.Getenv); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("HTTP_ADDR", &s.HTTPAddr)
	str("POSTGRES_DSN", &s.PostgresDSN)
	str("CLICKHOUSE_DSN", &s.ClickHouseDSN)
	str("DEAD_LETTER_FILE", &s.DeadLetterFile)
	if v := getenv("USE_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("USE_MEMORY: %w", err))
		} else {
			s.UseMemory = b
		}
	}

	str("REDIS_ADDR", &s.Redis.Addr)
	str("REDIS_PASSWORD", &s.Redis.Password)
	num("REDIS_DB", &s.Redis.DB)
	str("REDIS_CHANNEL", &s.Redis.Channel)

	num("BOOST_SLOTS", &s.Boost.Slots)
	float("BOOST_RATE_PER_HOUR", &s.Boost.RatePerHour)
	float("BOOST_MIN_CONTRIBUTION", &s.Boost.MinContribution)
	dur("BOOST_MAX_DURATION", &s.Boost.MaxDuration)

	str("SOLANA_RPC_ENDPOINT", &s.Solana.RPCEndpoint)
	str("SOLANA_WS_ENDPOINT", &s.Solana.WSEndpoint)
	str("SOLANA_RECIPIENT", &s.Solana.Recipient)
	float("SOLANA_SLIPPAGE", &s.Solana.Slippage)
	dur("PAYMENT_TIMEOUT", &s.Solana.PaymentTimeout)
	float("SOLANA_RPC_RATE", &s.Solana.RPCRate)

	str("EXCHANGE_URL", &s.Exchange.URL)
	dur("EXCHANGE_TTL", &s.Exchange.TTL)
	dur("EXCHANGE_REFRESH_INTERVAL", &s.Exchange.RefreshInterval)
	float("EXCHANGE_FALLBACK_RATE", &s.Exchange.FallbackRate)

	dur("SWEEP_INTERVAL", &s.Sweep.Interval)
	dur("RECONCILE_INTERVAL", &s.Reconcile.Interval)
	dur("RECONCILE_GRACE", &s.Reconcile.Grace)
	num("RECONCILE_MAX_ATTEMPTS", &s.Reconcile.MaxAttempts)

	float("API_REQUESTS_PER_MINUTE", &s.API.RequestsPerMinute)
	num("API_BURST", &s.API.Burst)

	str("LOG_LEVEL", &s.Log.Level)
	str("LOG_FORMAT", &s.Log.Format)
	str("LOG_FILE", &s.Log.File)

	return errors.Join(errs...)
}

// Rules converts the boost settings to engine rules.
func (s Settings) Rules() boost.Rules {
	return boost.Rules{
		Slots:           s.Boost.Slots,
		CentsPerHour:    domain.CentsFromFloat(s.Boost.RatePerHour),
		MinContribution: domain.CentsFromFloat(s.Boost.MinContribution),
		MaxDuration:     s.Boost.MaxDuration,
	}
}

// Validate checks the settings a server needs to start.
func (s Settings) Validate() error {
	var errs []error
	if err := s.Rules().Validate(); err != nil {
		errs = append(errs, err)
	}
	if !s.UseMemory && s.PostgresDSN == "" {
		errs = append(errs, errors.New("postgres DSN is required unless memory storage is used"))
	}
	if s.Solana.RPCEndpoint == "" {
		errs = append(errs, errors.New("solana RPC endpoint is required"))
	}
	if s.Solana.Recipient == "" {
		errs = append(errs, errors.New("solana recipient wallet is required"))
	}
	switch strings.ToLower(s.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", s.Log.Format))
	}
	return errors.Join(errs...)
}

// loadEnvFile sets variables from a dotenv file without overriding ones
// already present in the environment.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}
