package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Trading modes.
const (
	ModePaper = "paper"
	ModeDemo  = "demo"
	ModeLive  = "live"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig는 DefaultConfig 위에 파일을 덮고, 환경 변수로 민감 정보를 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading    TradingConfig    `yaml:"trading"`
	Kalshi     KalshiConfig     `yaml:"kalshi"`
	Spot       SpotConfig       `yaml:"spot"`
	Feed       FeedSettings     `yaml:"feed"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Signal     SignalConfig     `yaml:"signal"`
	Arbitrage  ArbitrageConfig  `yaml:"arbitrage"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type TradingConfig struct {
	Mode                   string  `yaml:"mode" validate:"oneof=paper demo live"`
	Bankroll               float64 `yaml:"bankroll" validate:"gt=0"`
	KellyScale             float64 `yaml:"kelly_scale" validate:"gt=0,lte=1"`
	MaxPositionDollars     float64 `yaml:"max_position_dollars" validate:"gt=0"`
	MaxPortfolioDollars    float64 `yaml:"max_portfolio_dollars" validate:"gtefield=MaxPositionDollars"`
	DefaultFillProbability float64 `yaml:"default_fill_probability" validate:"gte=0,lte=1"`
}

// BracketConfig is one contract of a partitioned event. Nil bounds are open.
type BracketConfig struct {
	Ticker string   `yaml:"ticker" validate:"required"`
	Low    *float64 `yaml:"low"`
	High   *float64 `yaml:"high"`
}

// EventConfig is a mutually exclusive contract set. Brackets with bounds also drive partition signals.
type EventConfig struct {
	EventTicker string          `yaml:"event_ticker" validate:"required"`
	Brackets    []BracketConfig `yaml:"brackets" validate:"min=2,dive"`
}

type KalshiConfig struct {
	WSURL           string        `yaml:"ws_url" validate:"required,url"`
	RestURL         string        `yaml:"rest_url" validate:"required,url"`
	DemoWSURL       string        `yaml:"demo_ws_url" validate:"omitempty,url"`
	DemoRestURL     string        `yaml:"demo_rest_url" validate:"omitempty,url"`
	KeyID           string        `yaml:"key_id"`
	PrivateKeyPath  string        `yaml:"private_key_path"`
	SecretsPath     string        `yaml:"secrets_path"`
	MaxSessionSec   int           `yaml:"max_session_sec" validate:"gte=0"`
	MaxAuthFailures int           `yaml:"max_auth_failures" validate:"gte=0"`
	BinaryMarkets   []string      `yaml:"binary_markets"`
	TrackSeries     []string      `yaml:"track_series"` // auto-subscribe binary markets of these series
	Events          []EventConfig `yaml:"events" validate:"dive"`
}

type SpotVenueConfig struct {
	Enabled bool    `yaml:"enabled"`
	WSURL   string  `yaml:"ws_url" validate:"required,url"`
	Symbol  string  `yaml:"symbol" validate:"required"`
	Weight  float64 `yaml:"weight" validate:"gte=0"`
}

type SpotConfig struct {
	Coinbase SpotVenueConfig `yaml:"coinbase"`
	Binance  SpotVenueConfig `yaml:"binance"`
	Kraken   SpotVenueConfig `yaml:"kraken"`
}

// Venue returns the settings of a spot venue.
func (s SpotConfig) Venue(v Venue) (SpotVenueConfig, bool) {
	switch v {
	case VenueCoinbase:
		return s.Coinbase, true
	case VenueBinance:
		return s.Binance, true
	case VenueKraken:
		return s.Kraken, true
	}
	return SpotVenueConfig{}, false
}

// Weights returns aggregator weights of the enabled venues keyed by source id.
func (s SpotConfig) Weights() map[string]float64 {
	out := make(map[string]float64, 3)
	for _, v := range Venues {
		if vc, ok := s.Venue(v); ok && vc.Enabled && vc.Weight > 0 {
			out[v.Source()] = vc.Weight
		}
	}
	return out
}

type FeedSettings struct {
	HeartbeatSec        int `yaml:"heartbeat_sec" validate:"gt=0"`
	HandshakeTimeoutSec int `yaml:"handshake_timeout_sec" validate:"gt=0"`
	WriteTimeoutSec     int `yaml:"write_timeout_sec" validate:"gt=0"`
	InboxSize           int `yaml:"inbox_size" validate:"gt=0"`
}

type AggregatorConfig struct {
	StaleMS               int     `yaml:"stale_ms" validate:"gt=0"`
	SingleSourceAgreement float64 `yaml:"single_source_agreement" validate:"gte=0,lte=1"`
	DispersionFreeBps     float64 `yaml:"dispersion_free_bps" validate:"gte=0"`
	DispersionZeroBps     float64 `yaml:"dispersion_zero_bps" validate:"gtfield=DispersionFreeBps"`
	HistoryMinutes        int     `yaml:"history_minutes" validate:"gt=0"`
}

type SignalConfig struct {
	EdgeThreshold       float64 `yaml:"edge_threshold" validate:"gt=0,lt=1"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	TargetQty           int     `yaml:"target_qty" validate:"gt=0"`
	MomentumLookbackMin int     `yaml:"momentum_lookback_min" validate:"gt=0"`
	MomentumDivisorBps  float64 `yaml:"momentum_divisor_bps" validate:"gt=0"`
	MaxShift            float64 `yaml:"max_shift" validate:"gt=0,lt=0.5"`
	FullSampleCount     int     `yaml:"full_sample_count" validate:"gt=0"`
	EvalIntervalMS      int     `yaml:"eval_interval_ms" validate:"gt=0"`
}

type ArbitrageConfig struct {
	MinNetProfitCents int `yaml:"min_net_profit_cents" validate:"gte=0"`
}

type ExecutionConfig struct {
	MaxOrdersPerCycle   int     `yaml:"max_orders_per_cycle" validate:"gt=0"`
	CooldownSec         int     `yaml:"cooldown_sec" validate:"gte=0"`
	MinPriceCents       int     `yaml:"min_price_cents" validate:"gte=1,lte=99"`
	MaxPriceCents       int     `yaml:"max_price_cents" validate:"gtefield=MinPriceCents,lte=99"`
	QueueDepthThreshold int     `yaml:"queue_depth_threshold" validate:"gt=0"`
	QueueCheckSec       int     `yaml:"queue_check_sec" validate:"gt=0"`
	RepriceMax          int     `yaml:"reprice_max" validate:"gt=0"`
	RepriceWindowSec    int     `yaml:"reprice_window_sec" validate:"gt=0"`
	RepriceCooldownSec  int     `yaml:"reprice_cooldown_sec" validate:"gte=0"`
	EdgeDecayAlertBps   float64 `yaml:"edge_decay_alert_bps" validate:"gte=0"`
	CallTimeoutSec      int     `yaml:"call_timeout_sec" validate:"gt=0"`
}

type StorageConfig struct {
	DBPath        string `yaml:"db_path"`       // empty: <workspace>/data/<mode>/records.db
	SnapshotDir   string `yaml:"snapshot_dir"`  // empty: <workspace>/data/<mode>/snapshots
	NATSURL       string `yaml:"nats_url" validate:"omitempty,url"`
	NATSPrefix    string `yaml:"nats_prefix" validate:"required"`
	QueueSize     int    `yaml:"queue_size" validate:"gt=0"`
	KeepSnapshots int    `yaml:"keep_snapshots" validate:"gt=0"`
}

type APIConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns a complete paper-trading configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = AppName
	cfg.App.Version = "0.1.0"

	cfg.Trading = TradingConfig{
		Mode:                   ModePaper,
		Bankroll:               500,
		KellyScale:             0.25,
		MaxPositionDollars:     50,
		MaxPortfolioDollars:    500,
		DefaultFillProbability: 0.5,
	}
	cfg.Kalshi = KalshiConfig{
		WSURL:       "wss://api.elections.kalshi.com/trade-api/ws/v2",
		RestURL:     "https://api.elections.kalshi.com/trade-api/v2",
		DemoWSURL:   "wss://demo-api.kalshi.co/trade-api/ws/v2",
		DemoRestURL: "https://demo-api.kalshi.co/trade-api/v2",
	}
	cfg.Spot = SpotConfig{
		Coinbase: SpotVenueConfig{Enabled: true, WSURL: "wss://ws-feed.exchange.coinbase.com", Symbol: "BTC-USD", Weight: 0.30},
		Binance:  SpotVenueConfig{Enabled: true, WSURL: "wss://stream.binance.com:9443/ws", Symbol: "btcusdt", Weight: 0.25},
		Kraken:   SpotVenueConfig{Enabled: true, WSURL: "wss://ws.kraken.com/v2", Symbol: "BTC/USD", Weight: 0.20},
	}
	cfg.Feed = FeedSettings{HeartbeatSec: 30, HandshakeTimeoutSec: 10, WriteTimeoutSec: 10, InboxSize: 4096}
	cfg.Aggregator = AggregatorConfig{
		StaleMS:               5000,
		SingleSourceAgreement: 0.7,
		DispersionFreeBps:     0,
		DispersionZeroBps:     100,
		HistoryMinutes:        30,
	}
	cfg.Signal = SignalConfig{
		EdgeThreshold:       0.05,
		ConfidenceThreshold: 0.5,
		TargetQty:           10,
		MomentumLookbackMin: 15,
		MomentumDivisorBps:  800,
		MaxShift:            0.35,
		FullSampleCount:     60,
		EvalIntervalMS:      2000,
	}
	cfg.Arbitrage = ArbitrageConfig{MinNetProfitCents: 1}
	cfg.Execution = ExecutionConfig{
		MaxOrdersPerCycle:   3,
		CooldownSec:         600,
		MinPriceCents:       1,
		MaxPriceCents:       99,
		QueueDepthThreshold: 50,
		QueueCheckSec:       15,
		RepriceMax:          3,
		RepriceWindowSec:    600,
		RepriceCooldownSec:  30,
		EdgeDecayAlertBps:   150,
		CallTimeoutSec:      10,
	}
	cfg.Storage = StorageConfig{NATSPrefix: "kalshi", QueueSize: 4096, KeepSnapshots: 10}
	cfg.API = APIConfig{Addr: "127.0.0.1:8089"}
	cfg.Logging = LoggingConfig{Level: "info", Format: "json"}
	return cfg
}

// LoadConfig reads path over the defaults, applies secrets and env overrides, then validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Kalshi.SecretsPath != "" {
		sec, err := LoadSecretConfig(cfg.Kalshi.SecretsPath)
		if err != nil {
			return nil, err
		}
		sec.Apply(cfg)
	}

	// 환경 변수는 설정 파일보다 우선합니다.
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field invariants. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	for _, u := range []string{c.Kalshi.WSURL, c.Spot.Coinbase.WSURL, c.Spot.Binance.WSURL, c.Spot.Kraken.WSURL} {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("%w: websocket url %q", ErrInvalidConfig, u)
		}
	}
	if c.Trading.Mode != ModePaper {
		if c.Kalshi.KeyID == "" || c.Kalshi.PrivateKeyPath == "" {
			return fmt.Errorf("%w: %s mode needs kalshi key_id and private_key_path", ErrInvalidConfig, c.Trading.Mode)
		}
	}
	if len(c.Spot.Weights()) == 0 && len(c.Kalshi.BinaryMarkets)+len(c.Kalshi.TrackSeries) > 0 {
		return fmt.Errorf("%w: binary markets need at least one weighted spot venue", ErrInvalidConfig)
	}
	seen := make(map[string]string)
	for _, ev := range c.Kalshi.Events {
		for _, b := range ev.Brackets {
			if prev, dup := seen[b.Ticker]; dup {
				return fmt.Errorf("%w: %s listed in %s and %s", ErrInvalidConfig, b.Ticker, prev, ev.EventTicker)
			}
			seen[b.Ticker] = ev.EventTicker
			if b.Low != nil && b.High != nil && *b.Low >= *b.High {
				return fmt.Errorf("%w: bracket %s low >= high", ErrInvalidConfig, b.Ticker)
			}
		}
	}
	return nil
}

// overrideWithEnv applies secrets and switches from the environment.
func overrideWithEnv(cfg *Config) {
	if cfg.Kalshi.KeyID != "" && cfg.Kalshi.SecretsPath == "" {
		slog.Warn("⚠️  SECURITY WARNING: kalshi key_id found in config file; prefer KALSHI_KEY_ID")
	}
	if v := os.Getenv("KALSHI_KEY_ID"); v != "" {
		cfg.Kalshi.KeyID = v
	}
	if v := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); v != "" {
		cfg.Kalshi.PrivateKeyPath = v
	}
	if v := os.Getenv("KALSHI_NATS_URL"); v != "" {
		cfg.Storage.NATSURL = v
	}
	if v := os.Getenv("KALSHI_TRADING_MODE"); v != "" {
		cfg.Trading.Mode = strings.ToLower(v)
	}
}

// Tickers returns every contract the Kalshi feed must subscribe to at startup.
func (c *Config) Tickers() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range c.Kalshi.BinaryMarkets {
		add(t)
	}
	for _, ev := range c.Kalshi.Events {
		for _, b := range ev.Brackets {
			add(b.Ticker)
		}
	}
	return out
}

// KalshiEndpoints returns the ws and rest base URLs for the trading mode.
func (c *Config) KalshiEndpoints() (ws, rest string) {
	if c.Trading.Mode == ModeDemo && c.Kalshi.DemoWSURL != "" && c.Kalshi.DemoRestURL != "" {
		return c.Kalshi.DemoWSURL, c.Kalshi.DemoRestURL
	}
	return c.Kalshi.WSURL, c.Kalshi.RestURL
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (f FeedSettings) Heartbeat() time.Duration        { return seconds(f.HeartbeatSec) }
func (f FeedSettings) HandshakeTimeout() time.Duration { return seconds(f.HandshakeTimeoutSec) }
func (f FeedSettings) WriteTimeout() time.Duration     { return seconds(f.WriteTimeoutSec) }

func (a AggregatorConfig) StaleAfter() time.Duration {
	return time.Duration(a.StaleMS) * time.Millisecond
}

func (s SignalConfig) EvalInterval() time.Duration {
	return time.Duration(s.EvalIntervalMS) * time.Millisecond
}

func (k KalshiConfig) MaxSession() time.Duration { return seconds(k.MaxSessionSec) }

func (e ExecutionConfig) Cooldown() time.Duration        { return seconds(e.CooldownSec) }
func (e ExecutionConfig) QueueCheck() time.Duration      { return seconds(e.QueueCheckSec) }
func (e ExecutionConfig) RepriceWindow() time.Duration   { return seconds(e.RepriceWindowSec) }
func (e ExecutionConfig) RepriceCooldown() time.Duration { return seconds(e.RepriceCooldownSec) }
func (e ExecutionConfig) CallTimeout() time.Duration     { return seconds(e.CallTimeoutSec) }
