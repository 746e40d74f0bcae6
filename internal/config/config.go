// Package config loads YAML configuration for the three vaultsync
// binaries: load file, apply defaults, validate. ${VAR} references in a
// config file are expanded from the environment. The worker (server)
// config additionally overlays its explicit environment variables, which
// take precedence over file values; the supervisor and client configs do
// not read environment variables beyond that expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig pins the shared on-disk layout. Every worker sharing a
// SHARED_STORAGE_ROOT must resolve identical absolute paths so N processes
// can treat the filesystem as shared state.
type StorageConfig struct {
	Root         string `yaml:"root"`
	FilesDir     string `yaml:"files_dir"`
	VersionsDir  string `yaml:"versions_dir"`
	MetadataDir  string `yaml:"metadata_dir"`
	ChunksDir    string `yaml:"chunks_dir"`
	ConflictsDir string `yaml:"conflicts_dir"`
}

// ServerConfig is a single worker's configuration.
type ServerConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Storage StorageConfig `yaml:"storage"`
	Archive ArchiveConfig `yaml:"archive"`
	LogLevel string       `yaml:"log_level"`
}

// ArchiveConfig configures the optional cold-storage retention tier.
type ArchiveConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	StorageAccount          string        `yaml:"storage_account"`
	Container               string        `yaml:"container"`
	ConnectionString        string        `yaml:"connection_string"`
	SASToken                string        `yaml:"sas_token"`
	UseManagedIdentity      bool          `yaml:"use_managed_identity"`
	TenantID                string        `yaml:"tenant_id"`
	ClientID                string        `yaml:"client_id"`
	ClientSecret            string        `yaml:"client_secret"`
	MaxAgeForLocalVersions  time.Duration `yaml:"max_age_for_local_versions"`
	MaxLocalVersionsPerFile int           `yaml:"max_local_versions_per_file"`
	// SweepInterval is how often the server walks every file and runs
	// Sweep against the archive tier. Defaults to 1h when Archive.Enabled
	// and left unset.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SupervisorConfig configures the supervisor process.
type SupervisorConfig struct {
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	MinInstances        int           `yaml:"min_instances"`
	MaxInstances        int           `yaml:"max_instances"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	WorkerBasePort      int           `yaml:"worker_base_port"`
	Storage             StorageConfig `yaml:"storage"`
	Archive             ArchiveConfig `yaml:"archive"`
	ServerBinary        string        `yaml:"server_binary"`
	LogLevel            string        `yaml:"log_level"`
}

// ClientConfig configures the client sync engine (components G/H).
type ClientConfig struct {
	ServerURL    string        `yaml:"server_url"`
	SyncFolder   string        `yaml:"sync_folder"`
	ClientName   string        `yaml:"client_name"`
	StateDBPath  string        `yaml:"state_db_path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LogLevel     string        `yaml:"log_level"`
}

const (
	// ConflictThreshold is the metadata-fallback conflict window.
	ConflictThreshold = 5000 * time.Millisecond
	// SyncInterval is the sliding-window duration.
	SyncInterval = 10000 * time.Millisecond
	// ChunkSize is the size threshold/part size for chunked uploads.
	ChunkSize = 10 * 1024 * 1024
	// DefaultPollInterval must be >= SyncInterval.
	DefaultPollInterval = 10 * time.Second
	// RecentlyDeletedTTL is how long a name is suppressed from
	// re-download after a local delete.
	RecentlyDeletedTTL = 30 * time.Second
	// RecentlyUploadedTTL suppresses re-download/re-upload echo.
	RecentlyUploadedTTL = 60 * time.Second
	// FirstSyncGrace is the age threshold under which a new local file
	// is uploaded rather than treated as stale.
	FirstSyncGrace = 60 * time.Second
	// RenameMTimeTolerance bounds the rename-detection heuristic.
	RenameMTimeTolerance = 10 * time.Second
	// DefaultSweepInterval is how often the archive tier is swept when
	// enabled without an explicit sweep_interval.
	DefaultSweepInterval = time.Hour
)

// LoadServerConfig reads a worker's YAML config, then overlays the
// explicit environment variables a worker consumes at startup.
func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyServerDefaults(&cfg)
	overlayServerEnv(&cfg)
	return cfg, cfg.validate()
}

func applyServerDefaults(c *ServerConfig) {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8081
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "./vaultdata"
	}
	applyStorageDefaults(&c.Storage)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Archive.Enabled && c.Archive.SweepInterval == 0 {
		c.Archive.SweepInterval = DefaultSweepInterval
	}
}

func applyStorageDefaults(s *StorageConfig) {
	if s.FilesDir == "" {
		s.FilesDir = s.Root + "/files"
	}
	if s.VersionsDir == "" {
		s.VersionsDir = s.Root + "/versions"
	}
	if s.MetadataDir == "" {
		s.MetadataDir = s.Root + "/metadata"
	}
	if s.ChunksDir == "" {
		s.ChunksDir = s.Root + "/chunks"
	}
	if s.ConflictsDir == "" {
		s.ConflictsDir = s.Root + "/metadata/conflicts"
	}
}

func overlayServerEnv(c *ServerConfig) {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		fmt.Sscanf(v, "%d", &c.Port)
	}
	if v := os.Getenv("SHARED_STORAGE_ROOT"); v != "" {
		// Re-derive dependent defaults if they were never explicitly set.
		prev := StorageConfig{Root: c.Storage.Root}
		applyStorageDefaults(&prev)
		next := StorageConfig{Root: v}
		applyStorageDefaults(&next)
		rederive := func(field *string, oldDefault, newDefault string) {
			if *field == oldDefault {
				*field = newDefault
			}
		}
		c.Storage.Root = v
		rederive(&c.Storage.FilesDir, prev.FilesDir, next.FilesDir)
		rederive(&c.Storage.VersionsDir, prev.VersionsDir, next.VersionsDir)
		rederive(&c.Storage.MetadataDir, prev.MetadataDir, next.MetadataDir)
		rederive(&c.Storage.ChunksDir, prev.ChunksDir, next.ChunksDir)
		rederive(&c.Storage.ConflictsDir, prev.ConflictsDir, next.ConflictsDir)
	}
	if v := os.Getenv("FILES_DIR"); v != "" {
		c.Storage.FilesDir = v
	}
	if v := os.Getenv("VERSIONS_DIR"); v != "" {
		c.Storage.VersionsDir = v
	}
	if v := os.Getenv("METADATA_DIR"); v != "" {
		c.Storage.MetadataDir = v
	}
	if v := os.Getenv("CHUNKS_DIR"); v != "" {
		c.Storage.ChunksDir = v
	}
	if v := os.Getenv("CONFLICTS_DIR"); v != "" {
		c.Storage.ConflictsDir = v
	}
}

func (c *ServerConfig) validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	return nil
}

// LoadSupervisorConfig reads the supervisor's YAML config.
func LoadSupervisorConfig(path string) (SupervisorConfig, error) {
	var cfg SupervisorConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MinInstances == 0 {
		cfg.MinInstances = 2
	}
	if cfg.MaxInstances == 0 {
		cfg.MaxInstances = 4
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 5 * time.Second
	}
	if cfg.WorkerBasePort == 0 {
		cfg.WorkerBasePort = 9100
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./vaultdata"
	}
	applyStorageDefaults(&cfg.Storage)
	if cfg.ServerBinary == "" {
		cfg.ServerBinary = "vaultserver"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxInstances < cfg.MinInstances {
		return cfg, fmt.Errorf("max_instances (%d) must be >= min_instances (%d)", cfg.MaxInstances, cfg.MinInstances)
	}
	return cfg, nil
}

// LoadClientConfig reads the client's YAML config.
func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StateDBPath == "" {
		cfg.StateDBPath = "./vaultclient-state.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ServerURL == "" {
		return cfg, fmt.Errorf("server_url is required")
	}
	if cfg.SyncFolder == "" {
		return cfg, fmt.Errorf("sync_folder is required")
	}
	if cfg.PollInterval < SyncInterval {
		return cfg, fmt.Errorf("poll_interval (%s) must be >= the server's conflict window (%s)", cfg.PollInterval, SyncInterval)
	}
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
