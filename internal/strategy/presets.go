package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is one strategy definition from the presets file. AutoStart
// presets are launched on boot; the rest are available by name over the
// API.
type Preset struct {
	Config    `yaml:",inline"`
	AutoStart bool `yaml:"auto_start"`
}

type presetFile struct {
	Strategies []Preset `yaml:"strategies"`
}

// LoadPresets reads the strategy presets file. A missing file is not an
// error: the engine simply starts with no presets.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}

	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for i := range f.Strategies {
		f.Strategies[i].ApplyDefaults()
		if err := f.Strategies[i].Validate(); err != nil {
			return nil, fmt.Errorf("preset %d: %w", i, err)
		}
	}
	return f.Strategies, nil
}
