package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"execution-core/internal/jobs"
	"execution-core/internal/strategy"
	"execution-core/pkg/exchanges/common"
)

// Wire parameter shapes for job starts. Durations travel as Go duration
// strings ("10m", "30s") so callers never count nanoseconds.

type twapParams struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	TotalQty float64 `json:"total_qty"`
	Duration string  `json:"duration"`
	Interval string  `json:"interval"`
}

type ocoParams struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Qty             float64 `json:"qty"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	StopPrice       float64 `json:"stop_price"`
	PollInterval    string  `json:"poll_interval"`
}

type gridParams struct {
	Symbol       string  `json:"symbol"`
	Lower        float64 `json:"lower"`
	Upper        float64 `json:"upper"`
	Levels       int     `json:"levels"`
	QtyPerLevel  float64 `json:"qty_per_level"`
	PollInterval string  `json:"poll_interval"`
}

const defaultPollInterval = 3 * time.Second

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		if def > 0 {
			return def, nil
		}
		return 0, fmt.Errorf("%s is required", field)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func parseTWAP(raw json.RawMessage) (jobs.TWAPConfig, error) {
	var p twapParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return jobs.TWAPConfig{}, fmt.Errorf("twap config: %w", err)
	}
	duration, err := parseDuration("duration", p.Duration, 0)
	if err != nil {
		return jobs.TWAPConfig{}, err
	}
	interval, err := parseDuration("interval", p.Interval, 0)
	if err != nil {
		return jobs.TWAPConfig{}, err
	}
	cfg := jobs.TWAPConfig{
		Symbol:   p.Symbol,
		Side:     common.Side(p.Side),
		TotalQty: p.TotalQty,
		Duration: duration,
		Interval: interval,
	}
	return cfg, cfg.Validate()
}

func parseOCO(raw json.RawMessage) (jobs.OCOConfig, error) {
	var p ocoParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return jobs.OCOConfig{}, fmt.Errorf("oco config: %w", err)
	}
	poll, err := parseDuration("poll_interval", p.PollInterval, defaultPollInterval)
	if err != nil {
		return jobs.OCOConfig{}, err
	}
	cfg := jobs.OCOConfig{
		Symbol:          p.Symbol,
		Side:            common.Side(p.Side),
		Qty:             p.Qty,
		TakeProfitPrice: p.TakeProfitPrice,
		StopPrice:       p.StopPrice,
		PollInterval:    poll,
	}
	return cfg, cfg.Validate()
}

func parseGrid(raw json.RawMessage) (jobs.GridConfig, error) {
	var p gridParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return jobs.GridConfig{}, fmt.Errorf("grid config: %w", err)
	}
	poll, err := parseDuration("poll_interval", p.PollInterval, defaultPollInterval)
	if err != nil {
		return jobs.GridConfig{}, err
	}
	cfg := jobs.GridConfig{
		Symbol:       p.Symbol,
		Lower:        p.Lower,
		Upper:        p.Upper,
		Levels:       p.Levels,
		QtyPerLevel:  p.QtyPerLevel,
		PollInterval: poll,
	}
	return cfg, cfg.Validate()
}

func parseStrategy(name string, raw json.RawMessage) (strategy.Config, error) {
	var cfg strategy.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return strategy.Config{}, fmt.Errorf("strategy config: %w", err)
	}
	// The job name addresses the strategy; the body need not repeat it.
	if cfg.Name == "" {
		cfg.Name = name
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// configSnapshot keeps a loosely typed copy of the raw config in the
// registry record for operators to inspect.
func configSnapshot(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
