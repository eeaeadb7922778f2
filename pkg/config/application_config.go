// Package config defines the node's yaml configuration, trimmed to
// what the consensus core and its host process need: logging, the
// consensus actor's tunables, and the metrics surface. P2P, RPC and
// storage configuration sections are out of scope and not reproduced.
package config

// ApplicationConfiguration is config specific to a running node.
type ApplicationConfiguration struct {
	LogPath    string        `yaml:"LogPath"`
	LogLevel   string        `yaml:"LogLevel"`
	DBPath     string        `yaml:"DBPath"`
	Consensus  Consensus     `yaml:"Consensus"`
	Prometheus MetricsConfig `yaml:"Prometheus"`
	Pprof      MetricsConfig `yaml:"Pprof"`
}

// MetricsConfig toggles an exporter endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"Enabled"`
	Address string `yaml:"Address"`
	Port    uint16 `yaml:"Port"`
}

// Consensus carries the policy knobs dbft.Config needs plus the
// actor's recovery throttling.
type Consensus struct {
	// SecondsPerBlock is the base round timeout; timeouts at view v
	// scale as SecondsPerBlock<<(v+1).
	SecondsPerBlock int `yaml:"SecondsPerBlock"`
	// MaxTransactionsPerBlock bounds a single proposal.
	MaxTransactionsPerBlock int `yaml:"MaxTransactionsPerBlock"`
	// MaxBlockSize bounds the aggregate encoded size of a proposal in
	// bytes; 0 means uncapped.
	MaxBlockSize int `yaml:"MaxBlockSize"`
	// MaxBlockSystemFee bounds the aggregate system fee of a proposal;
	// 0 means uncapped.
	MaxBlockSystemFee int64 `yaml:"MaxBlockSystemFee"`
	// RecoveryRequestMinIntervalMs is a per-sender cooldown: a
	// RecoveryRequest arriving sooner than this after the last one let
	// through from the same sender is dropped, on top of the
	// rotating-responder throttle. 0 disables it.
	RecoveryRequestMinIntervalMs int64 `yaml:"RecoveryRequestMinIntervalMs"`
}
