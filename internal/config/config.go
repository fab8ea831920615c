package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents runtime configuration for the gateway.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Extractor   ExtractorConfig           `json:"extractor"`
	Scoring     ScoringConfig             `json:"scoring"`
}

type BasicConfig struct {
	ServerAddress               string   `json:"server_address"`
	StagingDir                  string   `json:"staging_dir"`
	MaxUploadMB                 int64    `json:"max_upload_mb"`
	MaxDownloadMB               int64    `json:"max_download_mb"`
	DownloadTimeoutSeconds      int      `json:"download_timeout_seconds"`
	ScanTimeoutSeconds          int      `json:"scan_timeout_seconds"`
	MinWorkers                  *int     `json:"min_workers"`
	MaxWorkers                  int      `json:"max_workers"`
	QueueSize                   int      `json:"queue_size"`
	WorkerIdleSeconds           int      `json:"worker_idle_seconds"`
	StagingTTLMinutes           int      `json:"staging_ttl_minutes"`
	StagingCleanIntervalMinutes int      `json:"staging_clean_interval_minutes"`
	SkipContentCheck            bool     `json:"skip_content_check"`
	AllowedOrigins              []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

type ExtractorConfig struct {
	Binary          string `json:"binary"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
}

// ScoringConfig tunes the aggregator. Model names missing from Weights weigh 1.
type ScoringConfig struct {
	Weights   map[string]float64 `json:"weights"`
	Precision *int               `json:"precision"`
}

const (
	defaultServerAddress = ":8000"
	defaultStagingDir    = "temp_uploads"
	defaultSQLiteDSN     = "deepguard.db"
	defaultPrecision     = 2
	defaultMinWorkers    = 2
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(absPath)
	if !filepath.IsAbs(cfg.BasicConfig.StagingDir) {
		cfg.BasicConfig.StagingDir = filepath.Join(baseDir, cfg.BasicConfig.StagingDir)
	}
	if sqlite, ok := cfg.Databases["sqlite3"]; ok && sqlite.DSN != ":memory:" && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(baseDir, sqlite.DSN)
		cfg.Databases["sqlite3"] = sqlite
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = defaultServerAddress
	}
	if b.StagingDir == "" {
		b.StagingDir = defaultStagingDir
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 100
	}
	if b.MaxDownloadMB <= 0 {
		b.MaxDownloadMB = 200
	}
	if b.DownloadTimeoutSeconds <= 0 {
		b.DownloadTimeoutSeconds = 60
	}
	if b.ScanTimeoutSeconds <= 0 {
		b.ScanTimeoutSeconds = 120
	}
	if b.MinWorkers == nil {
		n := defaultMinWorkers
		b.MinWorkers = &n
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 16
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleSeconds <= 0 {
		b.WorkerIdleSeconds = 30
	}
	if b.StagingTTLMinutes <= 0 {
		b.StagingTTLMinutes = 30
	}
	if b.StagingCleanIntervalMinutes <= 0 {
		b.StagingCleanIntervalMinutes = 10
	}
	if len(b.AllowedOrigins) == 0 {
		b.AllowedOrigins = []string{"*"}
	}

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: defaultSQLiteDSN}
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "deepguard:"
	}

	if c.Extractor.Binary == "" {
		c.Extractor.Binary = "yt-dlp"
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		c.Extractor.TimeoutSeconds = 30
	}
	if c.Extractor.CacheTTLSeconds <= 0 {
		c.Extractor.CacheTTLSeconds = 300
	}

	if c.Scoring.Precision == nil {
		p := defaultPrecision
		c.Scoring.Precision = &p
	}
}

func (c *Config) validate() error {
	b := c.BasicConfig
	if *b.MinWorkers < 0 {
		return errors.New("min_workers cannot be negative")
	}
	if b.MaxWorkers < *b.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", b.MaxWorkers, *b.MinWorkers)
	}
	for name, w := range c.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("scoring weight for %q cannot be negative", name)
		}
	}
	if *c.Scoring.Precision > 8 {
		return errors.New("scoring precision must be at most 8")
	}
	return nil
}

func (b BasicConfig) MaxUploadBytes() int64   { return b.MaxUploadMB << 20 }
func (b BasicConfig) MaxDownloadBytes() int64 { return b.MaxDownloadMB << 20 }

func (b BasicConfig) DownloadTimeout() time.Duration {
	return time.Duration(b.DownloadTimeoutSeconds) * time.Second
}

func (b BasicConfig) ScanTimeout() time.Duration {
	return time.Duration(b.ScanTimeoutSeconds) * time.Second
}

func (b BasicConfig) WorkerIdleTimeout() time.Duration {
	return time.Duration(b.WorkerIdleSeconds) * time.Second
}

func (b BasicConfig) StagingTTL() time.Duration {
	return time.Duration(b.StagingTTLMinutes) * time.Minute
}

func (b BasicConfig) StagingCleanInterval() time.Duration {
	return time.Duration(b.StagingCleanIntervalMinutes) * time.Minute
}

func (e ExtractorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e ExtractorConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSeconds) * time.Second
}
