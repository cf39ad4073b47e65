// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// App captures process-wide runtime settings such as name, environment, metrics, and logging.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	Mode        string `yaml:"mode"` // paper|live
	MetricsAddr string `yaml:"metrics_addr"`
	StatusAddr  string `yaml:"status_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|console
}

// Exchange describes market data and order connectivity.
type Exchange struct {
	Name              string `yaml:"name"` // binance|stub
	Symbol            string `yaml:"symbol"`
	QuoteAsset        string `yaml:"quote_asset"`
	Interval          string `yaml:"interval"`
	Testnet           bool   `yaml:"testnet"`
	RESTBaseURL       string `yaml:"rest_base_url"`
	StreamBaseURL     string `yaml:"stream_base_url"`
	TimeoutMs         int    `yaml:"timeout_ms"`
	RecvWindowMs      int    `yaml:"recv_window_ms"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
	Stub              Stub   `yaml:"stub"`

	// Secrets only come from the environment.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// Stub configures the synthetic random-walk feed.
type Stub struct {
	TickIntervalMs int             `yaml:"tick_interval_ms"`
	TicksPerBar    int             `yaml:"ticks_per_bar"`
	StartPrice     decimal.Decimal `yaml:"start_price"`
	Seed           int64           `yaml:"seed"`
}

// Strategy groups indicator periods and decision thresholds.
type Strategy struct {
	RSIPeriod    int             `yaml:"rsi_period"`
	EMAPeriod    int             `yaml:"ema_period"`
	ATRPeriod    int             `yaml:"atr_period"`
	VolumeWindow int             `yaml:"volume_window"`
	Oversold     decimal.Decimal `yaml:"oversold"`
	Overbought   decimal.Decimal `yaml:"overbought"`
	StopLossATR  decimal.Decimal `yaml:"stop_loss_atr"`
	TrailingATR  decimal.Decimal `yaml:"trailing_atr"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade decimal.Decimal `yaml:"max_notional_per_trade"`
}

// Paper captures ledger settings: starting cash, fee model and the fixed trade size.
type Paper struct {
	StartingCash decimal.Decimal `yaml:"starting_cash"`
	FeeRate      decimal.Decimal `yaml:"fee_rate"`
	FeePlaces    int32           `yaml:"fee_places"`
	Quantity     decimal.Decimal `yaml:"quantity"`
}

// Session tunes the streaming controller.
type Session struct {
	WindowCapacity     int     `yaml:"window_capacity"`
	HeartbeatTimeoutMs int     `yaml:"heartbeat_timeout_ms"`
	OrderTimeoutMs     int     `yaml:"order_timeout_ms"`
	BackoffInitialMs   int     `yaml:"backoff_initial_ms"`
	BackoffMaxMs       int     `yaml:"backoff_max_ms"`
	BackoffFactor      float64 `yaml:"backoff_factor"`
}

// Persistence selects the sinks fed by the controller. Empty values disable a sink.
type Persistence struct {
	JSONLPath    string `yaml:"jsonl_path"`
	SQLitePath   string `yaml:"sqlite_path"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
	RedisKey     string `yaml:"redis_key"`

	RedisPassword string `yaml:"-"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App         App         `yaml:"app"`
	Exchange    Exchange    `yaml:"exchange"`
	Strategy    Strategy    `yaml:"strategy"`
	Risk        Risk        `yaml:"risk"`
	Paper       Paper       `yaml:"paper"`
	Session     Session     `yaml:"session"`
	Persistence Persistence `yaml:"persistence"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
// Zero values are replaced by defaults; secrets are not read here, see ApplyEnv.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.Defaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Defaults fills zero values with the stock settings.
func (c *Config) Defaults() {
	if c.App.Name == "" {
		c.App.Name = "trendbot"
	}
	if c.App.Mode == "" {
		c.App.Mode = "paper"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}

	ex := &c.Exchange
	if ex.Name == "" {
		ex.Name = "binance"
	}
	if ex.Symbol == "" {
		ex.Symbol = "BTCUSDT"
	}
	ex.Symbol = strings.ToUpper(ex.Symbol)
	if ex.QuoteAsset == "" {
		ex.QuoteAsset = "USDT"
	}
	if ex.Interval == "" {
		ex.Interval = "1m"
	}
	if ex.TimeoutMs == 0 {
		ex.TimeoutMs = 10_000
	}
	if ex.RecvWindowMs == 0 {
		ex.RecvWindowMs = 5_000
	}
	if ex.RequestsPerSecond == 0 {
		ex.RequestsPerSecond = 10
	}
	if ex.Stub.TickIntervalMs == 0 {
		ex.Stub.TickIntervalMs = 250
	}
	if ex.Stub.TicksPerBar == 0 {
		ex.Stub.TicksPerBar = 4
	}
	if ex.Stub.StartPrice.IsZero() {
		ex.Stub.StartPrice = decimal.NewFromInt(30_000)
	}

	st := &c.Strategy
	if st.RSIPeriod == 0 {
		st.RSIPeriod = 14
	}
	if st.EMAPeriod == 0 {
		st.EMAPeriod = 200
	}
	if st.ATRPeriod == 0 {
		st.ATRPeriod = 14
	}
	if st.VolumeWindow == 0 {
		st.VolumeWindow = 10
	}
	if st.Oversold.IsZero() {
		st.Oversold = decimal.NewFromInt(30)
	}
	if st.Overbought.IsZero() {
		st.Overbought = decimal.NewFromInt(70)
	}
	if st.StopLossATR.IsZero() {
		st.StopLossATR = decimal.RequireFromString("2.0")
	}
	if st.TrailingATR.IsZero() {
		st.TrailingATR = decimal.RequireFromString("1.5")
	}

	p := &c.Paper
	if p.StartingCash.IsZero() {
		p.StartingCash = decimal.NewFromInt(10_000)
	}
	if p.FeeRate.IsZero() {
		p.FeeRate = decimal.RequireFromString("0.001")
	}
	if p.FeePlaces == 0 {
		p.FeePlaces = 2
	}
	if p.Quantity.IsZero() {
		p.Quantity = decimal.RequireFromString("0.001")
	}

	s := &c.Session
	if s.WindowCapacity == 0 {
		s.WindowCapacity = 300
	}
	if s.OrderTimeoutMs == 0 {
		s.OrderTimeoutMs = 10_000
	}
	if s.BackoffInitialMs == 0 {
		s.BackoffInitialMs = 1_000
	}
	if s.BackoffMaxMs == 0 {
		s.BackoffMaxMs = 30_000
	}
	if s.BackoffFactor == 0 {
		s.BackoffFactor = 1.8
	}

	if c.Persistence.RedisChannel == "" {
		c.Persistence.RedisChannel = "trendbot:events"
	}
	if c.Persistence.RedisKey == "" {
		c.Persistence.RedisKey = "trendbot:latest"
	}
}

// Validate rejects settings the engine cannot run with, including missing
// live credentials.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateFile checks only what the YAML file controls. Credentials come from
// the environment and are not part of it.
func (c *Config) ValidateFile() error {
	return c.validate(false)
}

func (c *Config) validate(credentials bool) error {
	var problems []string
	if c.App.Mode != "paper" && c.App.Mode != "live" {
		problems = append(problems, fmt.Sprintf("app.mode %q must be paper or live", c.App.Mode))
	}
	if c.Exchange.Name != "binance" && c.Exchange.Name != "stub" {
		problems = append(problems, fmt.Sprintf("exchange.name %q must be binance or stub", c.Exchange.Name))
	}
	if c.App.Mode == "live" && c.Exchange.Name != "binance" {
		problems = append(problems, "live mode requires the binance exchange")
	}
	st := c.Strategy
	if st.RSIPeriod < 1 || st.EMAPeriod < 1 || st.ATRPeriod < 2 || st.VolumeWindow < 1 {
		problems = append(problems, "strategy periods must be positive and atr_period at least 2")
	}
	if !st.Oversold.LessThan(st.Overbought) {
		problems = append(problems, "strategy.oversold must be below strategy.overbought")
	}
	need := st.EMAPeriod
	if st.RSIPeriod+1 > need {
		need = st.RSIPeriod + 1
	}
	if st.ATRPeriod > need {
		need = st.ATRPeriod
	}
	if c.Session.WindowCapacity < need {
		problems = append(problems, fmt.Sprintf("session.window_capacity %d below indicator warmup %d", c.Session.WindowCapacity, need))
	}
	if c.Paper.FeeRate.IsNegative() || c.Paper.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		problems = append(problems, "paper.fee_rate must be in [0, 1)")
	}
	if !c.Paper.Quantity.IsPositive() {
		problems = append(problems, "paper.quantity must be positive")
	}
	if c.Paper.StartingCash.IsNegative() {
		problems = append(problems, "paper.starting_cash must not be negative")
	}
	if c.Session.BackoffFactor < 1 {
		problems = append(problems, "session.backoff_factor must be at least 1")
	}
	if credentials && c.App.Mode == "live" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		problems = append(problems, "live mode requires API credentials in the environment")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
