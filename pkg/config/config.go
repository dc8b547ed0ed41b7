package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by all three roles. One file can
// drive a whole deployment: each process reads the sections it needs.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Relay     RelayConfig     `yaml:"relay"`
	Trainer   TrainerConfig   `yaml:"trainer"`
	Worker    WorkerConfig    `yaml:"worker"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TransportConfig holds the wire-level knobs shared by every connection.
type TransportConfig struct {
	// HeaderWidth is the fixed width in bytes of the ASCII frame header.
	// It must hold the decimal byte length of the largest payload as well
	// as the control tokens.
	HeaderWidth int `yaml:"header_width"`
	// ChunkSize bounds individual reads while draining a payload body.
	ChunkSize int `yaml:"chunk_size"`
	// MaxPayloadBytes rejects absurd declared lengths before allocating.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
	// IOTimeout bounds blocking reads and writes once a frame is committed.
	IOTimeout time.Duration `yaml:"io_timeout"`
	// WriteReadyTimeout bounds how long a send waits for the socket to
	// accept the frame before the connection is declared dead.
	WriteReadyTimeout time.Duration `yaml:"write_ready_timeout"`
	// PollInterval is the near-zero deadline used for inbound polling.
	PollInterval time.Duration `yaml:"poll_interval"`
	// LoopSleep separates exchange-loop iterations to bound CPU usage.
	LoopSleep time.Duration `yaml:"loop_sleep"`
	// ReconnectWait is the fixed backoff between reconnect attempts.
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// BufferConfig bounds every aggregation buffer in the system.
type BufferConfig struct {
	MaxLen int `yaml:"max_len"`
}

// RelayConfig configures the rendezvous server.
type RelayConfig struct {
	BindAddr           string        `yaml:"bind_addr"`
	TrainerPort        int           `yaml:"trainer_port"`
	WorkerPort         int           `yaml:"worker_port"`
	AcceptTimeout      time.Duration `yaml:"accept_timeout"`
	MinSamplesPerBatch int           `yaml:"min_samples_per_batch"`
	AckTimeoutTrainer  time.Duration `yaml:"ack_timeout_trainer"`
	AckTimeoutWorker   time.Duration `yaml:"ack_timeout_worker"`
}

// TrainerConfig configures the trainer-side client and training loop.
type TrainerConfig struct {
	RelayHost      string        `yaml:"relay_host"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	RecvTimeout    time.Duration `yaml:"recv_timeout"`
	ModelPath      string        `yaml:"model_path"`
	DatasetPath    string        `yaml:"dataset_path"`
	MemoryMaxLen   int           `yaml:"memory_max_len"`
	BatchSize      int           `yaml:"batch_size"`
	Epochs         int           `yaml:"epochs"`
	RoundsPerEpoch int           `yaml:"rounds_per_epoch"`
	LearningRate   float64       `yaml:"learning_rate"`
}

// WorkerConfig configures the worker-side client and episode runner.
type WorkerConfig struct {
	RelayHost            string        `yaml:"relay_host"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	AckTimeout           time.Duration `yaml:"ack_timeout"`
	RecvTimeout          time.Duration `yaml:"recv_timeout"`
	MinSamplesPerBatch   int           `yaml:"min_samples_per_batch"`
	ModelPath            string        `yaml:"model_path"`
	ModelHistoryDir      string        `yaml:"model_history_dir"`
	ModelHistoryEvery    int           `yaml:"model_history_every"`
	MaxSamplesPerEpisode int           `yaml:"max_samples_per_episode"`
	TestEpisodeInterval  int           `yaml:"test_episode_interval"`
}

// MetricsConfig configures the Prometheus/health endpoint. An empty Addr
// disables the listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file or flags override it.
// Timeouts mirror a WAN deployment: connects and acks tolerate minutes of
// latency, polling stays cheap.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Transport: TransportConfig{
			HeaderWidth:       12,
			ChunkSize:         64 * 1024,
			MaxPayloadBytes:   256 * 1024 * 1024,
			IOTimeout:         30 * time.Second,
			WriteReadyTimeout: 30 * time.Second,
			PollInterval:      time.Millisecond,
			LoopSleep:         50 * time.Millisecond,
			ReconnectWait:     2 * time.Second,
		},
		Buffer: BufferConfig{
			MaxLen: 500000,
		},
		Relay: RelayConfig{
			BindAddr:           "0.0.0.0",
			TrainerPort:        55555,
			WorkerPort:         55556,
			AcceptTimeout:      60 * time.Second,
			MinSamplesPerBatch: 1,
			AckTimeoutTrainer:  60 * time.Second,
			AckTimeoutWorker:   60 * time.Second,
		},
		Trainer: TrainerConfig{
			RelayHost:      "127.0.0.1",
			ConnectTimeout: 300 * time.Second,
			AckTimeout:     300 * time.Second,
			RecvTimeout:    7200 * time.Second,
			ModelPath:      "data/weights/trainer.model",
			DatasetPath:    "data/dataset",
			MemoryMaxLen:   1000000,
			BatchSize:      256,
			Epochs:         10,
			RoundsPerEpoch: 100,
			LearningRate:   0.01,
		},
		Worker: WorkerConfig{
			RelayHost:            "127.0.0.1",
			ConnectTimeout:       300 * time.Second,
			AckTimeout:           300 * time.Second,
			RecvTimeout:          7200 * time.Second,
			MinSamplesPerBatch:   1,
			ModelPath:            "data/weights/worker.model",
			ModelHistoryDir:      "data/weights/history",
			ModelHistoryEvery:    10,
			MaxSamplesPerEpisode: 1000,
			TestEpisodeInterval:  50,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns defaults
// untouched so every command runs without a config file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the protocol cannot run with.
func (c *Config) Validate() error {
	if c.Transport.HeaderWidth < 5 {
		return fmt.Errorf("transport.header_width must be at least 5, got %d", c.Transport.HeaderWidth)
	}
	if c.Transport.ChunkSize <= 0 {
		return fmt.Errorf("transport.chunk_size must be positive, got %d", c.Transport.ChunkSize)
	}
	if c.Transport.MaxPayloadBytes <= 0 {
		return fmt.Errorf("transport.max_payload_bytes must be positive, got %d", c.Transport.MaxPayloadBytes)
	}
	if maxDecimal(c.Transport.HeaderWidth) < c.Transport.MaxPayloadBytes {
		return fmt.Errorf("transport.header_width %d cannot encode max_payload_bytes %d",
			c.Transport.HeaderWidth, c.Transport.MaxPayloadBytes)
	}
	if c.Buffer.MaxLen <= 0 {
		return fmt.Errorf("buffer.max_len must be positive, got %d", c.Buffer.MaxLen)
	}
	if c.Relay.TrainerPort == c.Relay.WorkerPort {
		return fmt.Errorf("relay trainer_port and worker_port must differ, both are %d", c.Relay.TrainerPort)
	}
	for name, port := range map[string]int{
		"relay.trainer_port": c.Relay.TrainerPort,
		"relay.worker_port":  c.Relay.WorkerPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.Relay.MinSamplesPerBatch <= 0 {
		return fmt.Errorf("relay.min_samples_per_batch must be positive, got %d", c.Relay.MinSamplesPerBatch)
	}
	if c.Worker.MinSamplesPerBatch <= 0 {
		return fmt.Errorf("worker.min_samples_per_batch must be positive, got %d", c.Worker.MinSamplesPerBatch)
	}
	if c.Worker.ModelHistoryEvery < 0 {
		return fmt.Errorf("worker.model_history_every must not be negative, got %d", c.Worker.ModelHistoryEvery)
	}
	if c.Trainer.LearningRate <= 0 {
		return fmt.Errorf("trainer.learning_rate must be positive, got %g", c.Trainer.LearningRate)
	}
	return nil
}

// TrainerRelayAddr is the host:port the trainer-side client dials.
func (c *Config) TrainerRelayAddr() string {
	return fmt.Sprintf("%s:%d", c.Trainer.RelayHost, c.Relay.TrainerPort)
}

// WorkerRelayAddr is the host:port the worker-side client dials.
func (c *Config) WorkerRelayAddr() string {
	return fmt.Sprintf("%s:%d", c.Worker.RelayHost, c.Relay.WorkerPort)
}

// EnsureDirs creates the directories persisted artifacts live in.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.Trainer.ModelPath),
		c.Trainer.DatasetPath,
		filepath.Dir(c.Worker.ModelPath),
	}
	if c.Worker.ModelHistoryEvery > 0 {
		dirs = append(dirs, c.Worker.ModelHistoryDir)
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// maxDecimal returns the largest value a width-digit decimal field can hold.
func maxDecimal(width int) int64 {
	var v int64 = 0
	for i := 0; i < width && v < (1<<62)/10; i++ {
		v = v*10 + 9
	}
	return v
}
