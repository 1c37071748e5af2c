package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"seatengine/pkg/apportionment"
)

type Config struct {
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"seatengine"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"password"`
	DBName     string `env:"DB_NAME" envDefault:"seatengine"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort string `env:"REDIS_PORT" envDefault:"6379"`

	EtcdEndpoints     []string      `env:"ETCD_ENDPOINTS" envDefault:"localhost:2379" envSeparator:","`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"10s"`
	LeaderElectionTTL int           `env:"LEADER_ELECTION_TTL" envDefault:"15"`

	APIPort   string `env:"API_PORT" envDefault:"8080"`
	JWTSecret string `env:"JWT_SECRET"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"LOG_ENCODING" envDefault:"json"`

	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TracingSampling float64 `env:"TRACING_SAMPLING_RATE" envDefault:"1.0"`

	// Run archive: "local" or "s3"
	ArchiveBackend string `env:"ARCHIVE_BACKEND" envDefault:"local"`
	ArchiveDir     string `env:"ARCHIVE_DIR" envDefault:"/var/lib/seatengine/archive"`
	S3Bucket       string `env:"S3_BUCKET"`
	S3Region       string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint     string `env:"S3_ENDPOINT"`
	S3Prefix       string `env:"S3_PREFIX" envDefault:"runs"`

	// 0 sizes the executor from available memory
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"0"`
	MaxAttempts       int `env:"MAX_ATTEMPTS" envDefault:"3"`

	PolicyFile string       `env:"POLICY_FILE"`
	Policy     PolicyConfig `envPrefix:"POLICY_"`
}

// PolicyConfig is the statutory apportionment policy. It may come from a TOML
// file named by POLICY_FILE; POLICY_* environment variables override the file.
type PolicyConfig struct {
	DistrictThresholdPct   string `toml:"district_threshold_pct" env:"DISTRICT_THRESHOLD_PCT"`
	NationalThresholdPct   string `toml:"national_threshold_pct" env:"NATIONAL_THRESHOLD_PCT"`
	Tolerance              int64  `toml:"tolerance" env:"TOLERANCE"`
	AlternateMethodEnabled bool   `toml:"alternate_method_enabled" env:"ALTERNATE_METHOD_ENABLED"`
	TieBreak               string `toml:"tie_break" env:"TIE_BREAK"`
	ReservedRule           string `toml:"reserved_rule" env:"RESERVED_RULE"`
}

const policyEnvPrefix = "POLICY_"

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DistrictThresholdPct: "20",
		NationalThresholdPct: "10",
		TieBreak:             string(apportionment.TieBreakEntityIDAscending),
		ReservedRule:         "none",
	}
}

// LoadConfig reads .env (if present), the environment and the optional policy file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{Policy: DefaultPolicyConfig()}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg.Policy); err != nil {
			return nil, fmt.Errorf("parse policy file %s: %w", cfg.PolicyFile, err)
		}
		// environment wins over the file
		if err := env.ParseWithOptions(&cfg.Policy, env.Options{Prefix: policyEnvPrefix}); err != nil {
			return nil, fmt.Errorf("parse policy env: %w", err)
		}
	}
	return cfg, nil
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// Engine converts the policy section into engine configuration.
func (p PolicyConfig) Engine() (apportionment.Policy, apportionment.Options, error) {
	district, err := decimal.NewFromString(p.DistrictThresholdPct)
	if err != nil {
		return apportionment.Policy{}, apportionment.Options{}, fmt.Errorf("district threshold %q: %w", p.DistrictThresholdPct, err)
	}
	national, err := decimal.NewFromString(p.NationalThresholdPct)
	if err != nil {
		return apportionment.Policy{}, apportionment.Options{}, fmt.Errorf("national threshold %q: %w", p.NationalThresholdPct, err)
	}
	policy := apportionment.Policy{
		DistrictThresholdPct: district,
		NationalThresholdPct: national,
		Tolerance:            p.Tolerance,
	}
	if err := policy.Validate(); err != nil {
		return apportionment.Policy{}, apportionment.Options{}, err
	}
	return policy, apportionment.Options{AlternateMethodEnabled: p.AlternateMethodEnabled}, nil
}

// Registry builds the method registry, configuring the official variant from the policy.
func (p PolicyConfig) Registry() (*apportionment.Registry, error) {
	tb, err := apportionment.ParseTieBreak(p.TieBreak)
	if err != nil {
		return nil, err
	}
	rule, err := apportionment.ParseReservedSeatRule(p.ReservedRule)
	if err != nil {
		return nil, err
	}
	return apportionment.DefaultRegistry(apportionment.NewOfficialMethod(tb, rule)), nil
}
