package strategy

import (
	"os"
	"path/filepath"
	"testing"
)

func writePresets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write presets file: %v", err)
	}
	return path
}

func TestLoadPresetsParsesFile(t *testing.T) {
	path := writePresets(t, `
strategies:
  - name: ema-btc
    symbol: BTCUSDT
    qty: 0.01
    fast_period: 5
    slow_period: 13
    warmup_interval: 5m
    auto_start: true
  - name: ema-eth
    symbol: ETHUSDT
    qty: 0.1
`)

	presets, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets returned error: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("got %d presets, expected 2", len(presets))
	}

	btc := presets[0]
	if btc.Name != "ema-btc" || btc.Symbol != "BTCUSDT" {
		t.Fatalf("preset=%+v, expected ema-btc on BTCUSDT", btc)
	}
	if btc.FastPeriod != 5 || btc.SlowPeriod != 13 || btc.WarmupInterval != "5m" {
		t.Fatalf("periods=%d/%d interval=%q, expected explicit values kept", btc.FastPeriod, btc.SlowPeriod, btc.WarmupInterval)
	}
	if !btc.AutoStart {
		t.Fatalf("auto_start not parsed")
	}

	// The second preset relies entirely on defaults.
	eth := presets[1]
	if eth.FastPeriod != 9 || eth.SlowPeriod != 21 || eth.WarmupInterval != "1m" {
		t.Fatalf("defaults not applied: %+v", eth)
	}
	if eth.AutoStart {
		t.Fatalf("auto_start defaulted to true")
	}
}

func TestLoadPresetsMissingFile(t *testing.T) {
	presets, err := LoadPresets(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if presets != nil {
		t.Fatalf("presets=%v, expected nil", presets)
	}
}

func TestLoadPresetsRejectsMalformedYAML(t *testing.T) {
	path := writePresets(t, "strategies: [unclosed")
	if _, err := LoadPresets(path); err == nil {
		t.Fatalf("malformed yaml accepted")
	}
}

func TestLoadPresetsRejectsInvalidPreset(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing symbol", `
strategies:
  - name: ema-btc
    qty: 0.01
`},
		{"zero qty", `
strategies:
  - name: ema-btc
    symbol: BTCUSDT
`},
		{"fast not below slow", `
strategies:
  - name: ema-btc
    symbol: BTCUSDT
    qty: 0.01
    fast_period: 21
    slow_period: 9
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePresets(t, tt.content)
			if _, err := LoadPresets(path); err == nil {
				t.Fatalf("invalid preset accepted")
			}
		})
	}
}
