// Package config provides layered configuration for tabprep.
// Priority: defaults < system < user < project < explicit file < env.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logflow/tabprep/pkg/errors"
)

// Config holds all tabprep configuration.
type Config struct {
	Version int `yaml:"version"`

	Processing ProcessingConfig `yaml:"processing"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ProcessingConfig controls input limits and parallelism.
type ProcessingConfig struct {
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	Workers           int      `yaml:"workers"`       // concurrent files
	SheetWorkers      int      `yaml:"sheet_workers"` // concurrent sheets per file
}

// ServerConfig for the HTTP API.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	UploadDir      string        `yaml:"upload_dir"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig selects where cleaned artifacts go.
type StorageConfig struct {
	Backend      string `yaml:"backend"` // local | s3
	Dir          string `yaml:"dir"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// JobsConfig selects the job status store.
type JobsConfig struct {
	Backend       string        `yaml:"backend"` // memory | redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`

	// Admission limits for the runner's circuit breaker.
	MaxInFlight int           `yaml:"max_in_flight"`
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// LoggingConfig for slog.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// TelemetryConfig for OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// Default returns the default configuration.
func Default() *Config {
	dataDir := filepath.Join(os.TempDir(), "tabprep")
	return &Config{
		Version: 1,
		Processing: ProcessingConfig{
			MaxFileSize:       50 << 20,
			AllowedExtensions: []string{".csv", ".tsv", ".txt", ".xlsx", ".xlsm"},
			Workers:           runtime.NumCPU(),
			SheetWorkers:      4,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			UploadDir:      filepath.Join(dataDir, "uploads"),
			RequestTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "local",
			Dir:     filepath.Join(dataDir, "artifacts"),
			Region:  "us-east-1",
		},
		Jobs: JobsConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			TTL:       24 * time.Hour,

			MaxInFlight: 64,
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "tabprep",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// Validate checks enumerated fields and limits.
func (c *Config) Validate() error {
	switch {
	case c.Processing.MaxFileSize <= 0:
		return errors.New(errors.CodeConfig, "processing.max_file_size must be positive")
	case c.Storage.Backend != "local" && c.Storage.Backend != "s3":
		return errors.Newf(errors.CodeConfig, "unknown storage backend %q", c.Storage.Backend)
	case c.Storage.Backend == "s3" && c.Storage.Bucket == "":
		return errors.New(errors.CodeConfig, "storage.bucket is required for s3")
	case c.Jobs.Backend != "memory" && c.Jobs.Backend != "redis":
		return errors.Newf(errors.CodeConfig, "unknown jobs backend %q", c.Jobs.Backend)
	case c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1:
		return errors.New(errors.CodeConfig, "telemetry.sample_rate must be within [0, 1]")
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	search []string
	loaded []string
}

// NewManager creates a manager that searches the standard locations.
func NewManager() *Manager {
	return &Manager{config: Default(), search: defaultPaths()}
}

// NewManagerWithPaths creates a manager that searches only paths.
func NewManagerWithPaths(paths ...string) *Manager {
	return &Manager{config: Default(), search: paths}
}

func defaultPaths() []string {
	var paths []string
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/tabprep/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tabprep", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".tabprep.yaml"))
	}
	return paths
}

// Load reads every search path that exists, then the explicit file if
// one is given, then environment overrides.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.loaded = nil
	for _, path := range m.search {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := m.loadFile(path); err != nil {
			return err
		}
		m.loaded = append(m.loaded, path)
	}
	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			return err
		}
		m.loaded = append(m.loaded, explicit)
	}

	m.loadEnv()
	return m.config.Validate()
}

func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeConfig, "read config").WithContext("path", path)
	}
	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return errors.Wrap(err, errors.CodeConfig, "parse config").WithContext("path", path)
	}
	m.config.merge(&partial)
	return nil
}

// merge copies the non-zero fields of src into c.
func (c *Config) merge(src *Config) {
	p, sp := &c.Processing, src.Processing
	setInt64(&p.MaxFileSize, sp.MaxFileSize)
	if len(sp.AllowedExtensions) > 0 {
		p.AllowedExtensions = sp.AllowedExtensions
	}
	setInt(&p.Workers, sp.Workers)
	setInt(&p.SheetWorkers, sp.SheetWorkers)

	setString(&c.Server.Addr, src.Server.Addr)
	setString(&c.Server.UploadDir, src.Server.UploadDir)
	if src.Server.RequestTimeout != 0 {
		c.Server.RequestTimeout = src.Server.RequestTimeout
	}

	s, ss := &c.Storage, src.Storage
	setString(&s.Backend, ss.Backend)
	setString(&s.Dir, ss.Dir)
	setString(&s.Bucket, ss.Bucket)
	setString(&s.Region, ss.Region)
	setString(&s.Endpoint, ss.Endpoint)
	setString(&s.Prefix, ss.Prefix)
	s.UsePathStyle = s.UsePathStyle || ss.UsePathStyle

	j, sj := &c.Jobs, src.Jobs
	setString(&j.Backend, sj.Backend)
	setString(&j.RedisAddr, sj.RedisAddr)
	setString(&j.RedisPassword, sj.RedisPassword)
	setInt(&j.RedisDB, sj.RedisDB)
	if sj.TTL != 0 {
		j.TTL = sj.TTL
	}
	setInt(&j.MaxInFlight, sj.MaxInFlight)
	setInt(&j.MaxFailures, sj.MaxFailures)
	if sj.Cooldown != 0 {
		j.Cooldown = sj.Cooldown
	}

	setString(&c.Logging.Level, src.Logging.Level)
	setString(&c.Logging.Format, src.Logging.Format)

	t, st := &c.Telemetry, src.Telemetry
	t.Enabled = t.Enabled || st.Enabled
	setString(&t.Endpoint, st.Endpoint)
	setString(&t.ServiceName, st.ServiceName)
	if st.SampleRate != 0 {
		t.SampleRate = st.SampleRate
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

// loadEnv applies TABPREP_* overrides. Malformed numbers are ignored.
func (m *Manager) loadEnv() {
	c := m.config
	env := func(key string, dst *string) {
		if v := os.Getenv("TABPREP_" + key); v != "" {
			*dst = v
		}
	}
	env("ADDR", &c.Server.Addr)
	env("UPLOAD_DIR", &c.Server.UploadDir)
	env("STORAGE_BACKEND", &c.Storage.Backend)
	env("STORAGE_DIR", &c.Storage.Dir)
	env("S3_BUCKET", &c.Storage.Bucket)
	env("S3_REGION", &c.Storage.Region)
	env("S3_ENDPOINT", &c.Storage.Endpoint)
	env("JOBS_BACKEND", &c.Jobs.Backend)
	env("REDIS_ADDR", &c.Jobs.RedisAddr)
	env("REDIS_PASSWORD", &c.Jobs.RedisPassword)
	env("LOG_LEVEL", &c.Logging.Level)
	env("LOG_FORMAT", &c.Logging.Format)
	env("OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	if v := os.Getenv("TABPREP_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Processing.MaxFileSize = n
		}
	}
	if v := os.Getenv("TABPREP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Processing.Workers = n
		}
	}
	if v := os.Getenv("TABPREP_TELEMETRY"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Telemetry.Enabled = b
		}
	}
}

// EnsureDirs creates the local directories the configuration refers to.
func (m *Manager) EnsureDirs() error {
	c := m.Get()
	dirs := []string{c.Server.UploadDir}
	if c.Storage.Backend == "local" {
		dirs = append(dirs, c.Storage.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.CodeConfig, "create directory").WithContext("dir", dir)
		}
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Paths returns the files that were loaded.
func (m *Manager) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Save writes the current config to path, or to the user config file when
// path is empty.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, errors.CodeConfig, "locate home directory")
		}
		path = filepath.Join(home, ".tabprep", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeConfig, "create config directory")
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return errors.Wrap(err, errors.CodeConfig, "encode config")
	}
	return os.WriteFile(path, data, 0o644)
}
