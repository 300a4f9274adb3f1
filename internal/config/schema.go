package config

import "time"

// Config holds quarters configuration.
// Stored at: $HOME/.quarters/config.yaml
type Config struct {
	Server   ServerCfg   `mapstructure:"server" yaml:"server"`
	Store    StoreCfg    `mapstructure:"store" yaml:"store"`
	Realtime RealtimeCfg `mapstructure:"realtime" yaml:"realtime"`
	Worker   WorkerCfg   `mapstructure:"worker" yaml:"worker"`
	Engine   EngineCfg   `mapstructure:"engine" yaml:"engine"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// StoreCfg configures the hosted relational store.
type StoreCfg struct {
	URL    string    `mapstructure:"url" yaml:"url"`
	APIKey string    `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Docker DockerCfg `mapstructure:"docker" yaml:"docker"`
}

// DockerCfg holds the dev-store container configuration.
type DockerCfg struct {
	// ContainerName is the Docker container name (default: quarters-store)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 54321)
	Port string `mapstructure:"port" yaml:"port"`
	// DataDir is the host directory mounted for store data
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// RealtimeCfg configures the change-notification bus connection.
type RealtimeCfg struct {
	URL     string `mapstructure:"url" yaml:"url"` // websocket endpoint; empty falls back to the in-memory broker
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// WorkerCfg configures the extraction worker command interface.
type WorkerCfg struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Token          string `mapstructure:"token" yaml:"token"` // supports ${ENV_VAR} syntax
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// EngineCfg tunes the job and reconciliation engine.
type EngineCfg struct {
	JobTimeoutSeconds   int `mapstructure:"job_timeout_seconds" yaml:"job_timeout_seconds"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	SaveWindowMillis    int `mapstructure:"save_window_ms" yaml:"save_window_ms"`
	NavWindowMillis     int `mapstructure:"nav_window_ms" yaml:"nav_window_ms"`
	DebounceMillis      int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	SessionIdleMinutes  int `mapstructure:"session_idle_minutes" yaml:"session_idle_minutes"`
}

// JobTimeout returns the maximum running duration of one job.
func (e EngineCfg) JobTimeout() time.Duration {
	return time.Duration(e.JobTimeoutSeconds) * time.Second
}

// PollInterval returns the watcher's fallback poll cadence.
func (e EngineCfg) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// SaveWindow returns the focus guard opened by an edit.
func (e EngineCfg) SaveWindow() time.Duration {
	return time.Duration(e.SaveWindowMillis) * time.Millisecond
}

// NavWindow returns the focus guard opened by a destructive navigation.
func (e EngineCfg) NavWindow() time.Duration {
	return time.Duration(e.NavWindowMillis) * time.Millisecond
}

// Debounce returns the delay before pending edits are written.
func (e EngineCfg) Debounce() time.Duration {
	return time.Duration(e.DebounceMillis) * time.Millisecond
}

// SessionIdle returns how long a session may sit untouched before pruning.
func (e EngineCfg) SessionIdle() time.Duration {
	return time.Duration(e.SessionIdleMinutes) * time.Minute
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 7780,
		},
		Store: StoreCfg{
			URL:    "http://localhost:54321",
			APIKey: "${QUARTERS_STORE_KEY}",
			Docker: DockerCfg{
				ContainerName: "quarters-store",
				Image:         "ghcr.io/quartershq/store-emulator:latest",
				Port:          "54321",
			},
		},
		Realtime: RealtimeCfg{
			Enabled: true,
		},
		Worker: WorkerCfg{
			URL:            "http://localhost:8090",
			Token:          "${QUARTERS_WORKER_TOKEN}",
			TimeoutSeconds: 30,
		},
		Engine: EngineCfg{
			JobTimeoutSeconds:   600,
			PollIntervalSeconds: 15,
			SaveWindowMillis:    1000,
			NavWindowMillis:     1000,
			DebounceMillis:      400,
			SessionIdleMinutes:  30,
		},
	}
}
