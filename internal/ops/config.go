package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"main/internal/executor"
	"main/internal/model"
	"main/internal/pipeline"
	"main/internal/schema"
)

const (
	defaultBasePort = 13140
	defaultMaxPort  = 13399
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Symbols    []SymbolConfig   `json:"symbols"`
	Feeds      FeedsConfig      `json:"feeds"`
	Publisher  PublisherConfig  `json:"publisher"`
	Strategy   StrategyConfig   `json:"strategy"`
	Executor   ExecutorConfig   `json:"executor"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Journal    *JournalConfig   `json:"journal"`
}

// SymbolConfig describes a symbol entry. Order matters: the channel plan
// assigns ports by position.
type SymbolConfig struct {
	Name  string           `json:"name"`
	Scale schema.ScaleSpec `json:"scale"`
}

// FeedsConfig describes the addressing scheme and the gateway bind host.
type FeedsConfig struct {
	Host     string `json:"host"`
	BasePort int    `json:"basePort"`
	MaxPort  int    `json:"maxPort"`
	// ServeGateway exposes every feed on its endpoint over websocket.
	ServeGateway bool `json:"serveGateway"`
}

// PublisherConfig controls the synthetic tick source and pacing.
type PublisherConfig struct {
	BasePrice int64         `json:"basePrice"`
	MaxStep   int64         `json:"maxStep"`
	Seed      int64         `json:"seed"`
	Interval  time.Duration `json:"interval"`
}

// StrategyConfig controls the default quote function.
type StrategyConfig struct {
	HalfSpread model.Price `json:"halfSpread"`
}

// ExecutorConfig controls the order execution manager.
type ExecutorConfig struct {
	Qty          model.Quantity `json:"qty"`
	Tolerance    model.Price    `json:"tolerance"`
	RetryBudget  int            `json:"retryBudget"`
	RetryBackoff time.Duration  `json:"retryBackoff"`
	StaleAfter   time.Duration  `json:"staleAfter"`
}

// SupervisorConfig controls process lifecycle behavior.
type SupervisorConfig struct {
	ShutdownGrace   time.Duration `json:"shutdownGrace"`
	MetricsInterval time.Duration `json:"metricsInterval"`
}

// JournalConfig enables the optional fill/position journal.
type JournalConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
}

// Credentials are broker credentials resolved from the environment.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry   *schema.Registry
	Plan       *schema.ChannelPlan
	Feeds      FeedsConfig
	Publisher  PublisherConfig
	Strategy   StrategyConfig
	Executor   executor.Config
	Supervisor pipeline.Config
	Journal    *JournalConfig
}

// Load reads a JSON config file and builds the registry and channel plan.
// A bad port range or empty symbol list fails here, before any stage starts:
// partial startup would leave an inconsistent topology.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and builds the runtime pieces.
func Resolve(cfg FileConfig) (Loaded, error) {
	if len(cfg.Symbols) == 0 {
		return Loaded{}, fmt.Errorf("config has no symbols")
	}

	registry := schema.NewRegistry()
	for _, symbol := range cfg.Symbols {
		scale := symbol.Scale
		if scale.PriceScale == 0 {
			scale.PriceScale = 4
		}
		if _, err := registry.AddSymbol(symbol.Name, scale); err != nil {
			return Loaded{}, fmt.Errorf("register symbol %q: %w", symbol.Name, err)
		}
	}

	feeds := cfg.Feeds
	if feeds.Host == "" {
		feeds.Host = "127.0.0.1"
	}
	if feeds.BasePort == 0 {
		feeds.BasePort = defaultBasePort
	}
	if feeds.MaxPort == 0 {
		feeds.MaxPort = defaultMaxPort
	}
	plan, err := schema.NewChannelPlan(registry, feeds.BasePort, feeds.MaxPort)
	if err != nil {
		return Loaded{}, err
	}

	pub := cfg.Publisher
	if pub.BasePrice <= 0 {
		pub.BasePrice = 1_000_000 // 100.0000 at price scale 4
	}
	if pub.Interval <= 0 {
		pub.Interval = 10 * time.Millisecond
	}

	strat := cfg.Strategy
	if strat.HalfSpread <= 0 {
		strat.HalfSpread = 1_000 // 0.1000 at price scale 4
	}

	return Loaded{
		Registry:  registry,
		Plan:      plan,
		Feeds:     feeds,
		Publisher: pub,
		Strategy:  strat,
		Executor: executor.Config{
			Qty:          cfg.Executor.Qty,
			Tolerance:    cfg.Executor.Tolerance,
			RetryBudget:  cfg.Executor.RetryBudget,
			RetryBackoff: cfg.Executor.RetryBackoff,
			StaleAfter:   cfg.Executor.StaleAfter,
		},
		Supervisor: pipeline.Config{
			ShutdownGrace:   cfg.Supervisor.ShutdownGrace,
			MetricsInterval: cfg.Supervisor.MetricsInterval,
		},
		Journal: cfg.Journal,
	}, nil
}

// LoadCredentials reads broker credentials from the environment, merging a
// .env file when present.
func LoadCredentials() (Credentials, error) {
	// Missing .env is fine; the variables may come from the real environment.
	_ = godotenv.Load()

	creds := Credentials{
		APIKey:    os.Getenv("BROKER_API_KEY"),
		APISecret: os.Getenv("BROKER_API_SECRET"),
	}
	return creds, nil
}

// RequireCredentials fails startup when credentials are absent. Only real
// broker integrations need them; the paper broker runs without.
func RequireCredentials() (Credentials, error) {
	creds, err := LoadCredentials()
	if err != nil {
		return Credentials{}, err
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return Credentials{}, fmt.Errorf("BROKER_API_KEY and BROKER_API_SECRET must be set")
	}
	return creds, nil
}
