package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sequencer node
type Config struct {
	Node       NodeConfig         `mapstructure:"node"`
	Network    NetworkConfig      `mapstructure:"network"`
	Storage    StorageConfig      `mapstructure:"storage"`
	Consensus  ConsensusConfig    `mapstructure:"consensus"`
	Batcher    BatcherConfig      `mapstructure:"batcher"`
	Builder    BlockBuilderConfig `mapstructure:"builder"`
	Bouncer    BouncerConfig      `mapstructure:"bouncer"`
	ClassCache ClassCacheConfig   `mapstructure:"class_cache"`
	API        APIConfig         `mapstructure:"api"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	Metrics    MetricsConfig      `mapstructure:"metrics"`
}

// NodeConfig holds node-specific configuration
type NodeConfig struct {
	ID       string `mapstructure:"id"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
}

// NetworkConfig holds network configuration for the consensus broadcast bus.
type NetworkConfig struct {
	ListenAddress string   `mapstructure:"listen_address"`
	Bootstrap     []string `mapstructure:"bootstrap"`
	MaxPeers      int      `mapstructure:"max_peers"`
	UseLoopback   bool     `mapstructure:"use_loopback"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Engine    string `mapstructure:"engine"`
	Path      string `mapstructure:"path"`
	CacheSize int64  `mapstructure:"cache_size"`
	Sync      bool   `mapstructure:"sync"`
}

// TimeoutsConfig holds the three consensus step timeouts.
type TimeoutsConfig struct {
	ProposalTimeout  time.Duration `mapstructure:"proposal_timeout"`
	PrevoteTimeout   time.Duration `mapstructure:"prevote_timeout"`
	PrecommitTimeout time.Duration `mapstructure:"precommit_timeout"`
}

// ConsensusConfig holds the multi-height consensus manager configuration.
type ConsensusConfig struct {
	ChainID       string         `mapstructure:"chain_id"`
	ValidatorID   string         `mapstructure:"validator_id"`
	NetworkTopic  string         `mapstructure:"network_topic"`
	StartHeight   uint64         `mapstructure:"start_height"`
	NumValidators int            `mapstructure:"num_validators"`
	Timeouts      TimeoutsConfig `mapstructure:"timeouts"`
}

// BatcherConfig holds batcher-facade configuration.
type BatcherConfig struct {
	OutstreamContentBufferSize int `mapstructure:"outstream_content_buffer_size"`
	StreamingChunkSize         int `mapstructure:"streaming_chunk_size"`
}

// BlockBuilderConfig holds block-builder configuration.
type BlockBuilderConfig struct {
	TxChunkSize           int           `mapstructure:"tx_chunk_size"`
	BuildDeadlineMargin   time.Duration `mapstructure:"build_deadline_margin"`
	EmptyChunkSleep       time.Duration `mapstructure:"empty_chunk_sleep"`
	StoredBlockHashBuffer uint64        `mapstructure:"stored_block_hash_buffer"`
}

// BouncerConfig holds the per-block resource capacity ceiling.
type BouncerConfig struct {
	MaxNSteps               uint64            `mapstructure:"max_n_steps"`
	MaxBuiltinCounts        map[string]uint64 `mapstructure:"max_builtin_counts"`
	MaxStateDiffSize        uint64            `mapstructure:"max_state_diff_size"`
	MaxMessageSegmentLength uint64            `mapstructure:"max_message_segment_length"`
}

// ClassCacheConfig holds the compiled-class cache configuration.
type ClassCacheConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// APIConfig holds API configuration
type APIConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// RESTConfig holds REST API configuration
type RESTConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Address string   `mapstructure:"address"`
	CORS    []string `mapstructure:"cors"`
}

// GRPCConfig holds gRPC API configuration
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:       "",
			DataDir:  "./data",
			LogLevel: "info",
		},
		Network: NetworkConfig{
			ListenAddress: "/ip4/0.0.0.0/tcp/26656",
			Bootstrap:     []string{},
			MaxPeers:      50,
			UseLoopback:   false,
		},
		Storage: StorageConfig{
			Engine:    "badger",
			Path:      "",
			CacheSize: 100 * 1024 * 1024, // 100MB
			Sync:      true,
		},
		Consensus: ConsensusConfig{
			ChainID:       "sequencer-local",
			ValidatorID:   "",
			NetworkTopic:  "/sequencer/consensus/1.0.0",
			StartHeight:   0,
			NumValidators: 4,
			Timeouts: TimeoutsConfig{
				ProposalTimeout:  3 * time.Second,
				PrevoteTimeout:   1 * time.Second,
				PrecommitTimeout: 1 * time.Second,
			},
		},
		Batcher: BatcherConfig{
			OutstreamContentBufferSize: 100,
			StreamingChunkSize:         3,
		},
		Builder: BlockBuilderConfig{
			TxChunkSize:           100,
			BuildDeadlineMargin:   500 * time.Millisecond,
			EmptyChunkSleep:       1 * time.Second,
			StoredBlockHashBuffer: 10,
		},
		Bouncer: BouncerConfig{
			MaxNSteps:               1_000_000_000,
			MaxBuiltinCounts:        map[string]uint64{"pedersen": 1_000_000, "range_check": 1_000_000},
			MaxStateDiffSize:        1_000_000,
			MaxMessageSegmentLength: 1_000_000,
		},
		ClassCache: ClassCacheConfig{
			Capacity: 1000,
		},
		API: APIConfig{
			REST: RESTConfig{
				Enabled: true,
				Address: "0.0.0.0:1317",
				CORS:    []string{"*"},
			},
			GRPC: GRPCConfig{
				Enabled: true,
				Address: "0.0.0.0:9090",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0:9091",
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	v.SetDefault("node.data_dir", cfg.Node.DataDir)
	v.SetDefault("node.log_level", cfg.Node.LogLevel)
	v.SetDefault("network.listen_address", cfg.Network.ListenAddress)
	v.SetDefault("network.max_peers", cfg.Network.MaxPeers)
	v.SetDefault("network.use_loopback", cfg.Network.UseLoopback)
	v.SetDefault("storage.engine", cfg.Storage.Engine)
	v.SetDefault("storage.cache_size", cfg.Storage.CacheSize)
	v.SetDefault("storage.sync", cfg.Storage.Sync)
	v.SetDefault("consensus.chain_id", cfg.Consensus.ChainID)
	v.SetDefault("consensus.network_topic", cfg.Consensus.NetworkTopic)
	v.SetDefault("consensus.start_height", cfg.Consensus.StartHeight)
	v.SetDefault("consensus.num_validators", cfg.Consensus.NumValidators)
	v.SetDefault("consensus.timeouts.proposal_timeout", cfg.Consensus.Timeouts.ProposalTimeout)
	v.SetDefault("consensus.timeouts.prevote_timeout", cfg.Consensus.Timeouts.PrevoteTimeout)
	v.SetDefault("consensus.timeouts.precommit_timeout", cfg.Consensus.Timeouts.PrecommitTimeout)
	v.SetDefault("batcher.outstream_content_buffer_size", cfg.Batcher.OutstreamContentBufferSize)
	v.SetDefault("batcher.streaming_chunk_size", cfg.Batcher.StreamingChunkSize)
	v.SetDefault("builder.tx_chunk_size", cfg.Builder.TxChunkSize)
	v.SetDefault("builder.build_deadline_margin", cfg.Builder.BuildDeadlineMargin)
	v.SetDefault("builder.empty_chunk_sleep", cfg.Builder.EmptyChunkSleep)
	v.SetDefault("builder.stored_block_hash_buffer", cfg.Builder.StoredBlockHashBuffer)
	v.SetDefault("bouncer.max_n_steps", cfg.Bouncer.MaxNSteps)
	v.SetDefault("bouncer.max_state_diff_size", cfg.Bouncer.MaxStateDiffSize)
	v.SetDefault("bouncer.max_message_segment_length", cfg.Bouncer.MaxMessageSegmentLength)
	v.SetDefault("class_cache.capacity", cfg.ClassCache.Capacity)
	v.SetDefault("api.rest.enabled", cfg.API.REST.Enabled)
	v.SetDefault("api.rest.address", cfg.API.REST.Address)
	v.SetDefault("api.rest.cors", cfg.API.REST.CORS)
	v.SetDefault("api.grpc.enabled", cfg.API.GRPC.Enabled)
	v.SetDefault("api.grpc.address", cfg.API.GRPC.Address)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetEnvPrefix("SEQUENCER")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
