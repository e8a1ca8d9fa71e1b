package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings are the service-level knobs, read from an optional YAML file and
// SENTINEL_* environment variables.
type Settings struct {
	DataDir      string `mapstructure:"data_dir"`
	RulesPath    string `mapstructure:"rules_path"`
	TripwirePath string `mapstructure:"tripwire_path"`
	RoutingPath  string `mapstructure:"routing_path"`
	AuditPath    string `mapstructure:"audit_path"`
	AlertsPath   string `mapstructure:"alerts_path"`

	State       StateSettings       `mapstructure:"state"`
	Suppression SuppressionSettings `mapstructure:"suppression"`
	Redis       RedisSettings       `mapstructure:"redis"`
	Correlation CorrelationSettings `mapstructure:"correlation"`
	Sweep       SweepSettings       `mapstructure:"sweep"`
	Engine      EngineConf          `mapstructure:"engine"`
	HTTP        HTTPSettings        `mapstructure:"http"`
	Log         LogSettings         `mapstructure:"log"`
}

// StateSettings selects where correlation and processed-event state live.
type StateSettings struct {
	Backend    string `mapstructure:"backend"` // memory | sqlite
	SQLitePath string `mapstructure:"sqlite_path"`
}

// SuppressionSettings selects the suppression backend.
type SuppressionSettings struct {
	Backend   string        `mapstructure:"backend"` // memory | sqlite | redis
	Retention time.Duration `mapstructure:"retention"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type CorrelationSettings struct {
	Retention time.Duration `mapstructure:"retention"`
}

type SweepSettings struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	EventWorkers   int           `mapstructure:"event_workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	EventTimeout   time.Duration `mapstructure:"event_timeout"`
	DedupCacheSize int           `mapstructure:"dedup_cache_size"`
	DedupRetention time.Duration `mapstructure:"dedup_retention"`
}

type HTTPSettings struct {
	Addr string `mapstructure:"addr"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("rules_path", "configs/rules.yaml")
	v.SetDefault("tripwire_path", "") // Empty = embedded policy
	v.SetDefault("routing_path", "")  // Empty = embedded policy
	v.SetDefault("audit_path", "")    // Empty = derive from data_dir
	v.SetDefault("alerts_path", "")   // Empty = derive from data_dir

	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.sqlite_path", "")
	v.SetDefault("suppression.backend", "sqlite")
	v.SetDefault("suppression.retention", "168h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sentinel:suppression:")

	v.SetDefault("correlation.retention", "24h")
	v.SetDefault("sweep.interval", "1m")
	v.SetDefault("sweep.max_duration", "10s")

	v.SetDefault("engine.event_workers", 8)
	v.SetDefault("engine.queue_depth", 1000)
	v.SetDefault("engine.event_timeout", "5s")
	v.SetDefault("engine.dedup_cache_size", 100000)
	v.SetDefault("engine.dedup_retention", "168h")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadSettings reads settings from path (optional) and the environment.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	s.applyDerived()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDerived() {
	if s.AuditPath == "" {
		s.AuditPath = filepath.Join(s.DataDir, "audit.jsonl")
	}
	if s.AlertsPath == "" {
		s.AlertsPath = filepath.Join(s.DataDir, "alerts.jsonl")
	}
	if s.State.SQLitePath == "" {
		s.State.SQLitePath = filepath.Join(s.DataDir, "state.db")
	}
}

// Validate checks enumerated settings and positive durations.
func (s *Settings) Validate() error {
	var errs []string
	switch s.State.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q must be memory or sqlite", s.State.Backend))
	}
	switch s.Suppression.Backend {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Sprintf("suppression.backend %q must be memory, sqlite or redis", s.Suppression.Backend))
	}
	if s.Suppression.Backend == "sqlite" && s.State.Backend != "sqlite" {
		errs = append(errs, "suppression.backend sqlite requires state.backend sqlite")
	}
	if s.Sweep.Interval <= 0 || s.Sweep.MaxDuration <= 0 {
		errs = append(errs, "sweep.interval and sweep.max_duration must be positive")
	}
	if s.Correlation.Retention <= 0 {
		errs = append(errs, "correlation.retention must be positive")
	}
	if s.Engine.EventWorkers <= 0 || s.Engine.QueueDepth <= 0 {
		errs = append(errs, "engine.event_workers and engine.queue_depth must be positive")
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", s.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("settings validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
