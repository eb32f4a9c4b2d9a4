package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelKind distinguishes analog sensor channels, which are range-validated
// and aggregated, from code channels, which map through a lookup table.
type ChannelKind string

const (
	ChannelAnalog ChannelKind = "analog"
	ChannelCode   ChannelKind = "code"
)

// Channel describes one sensor channel sampled by the history collector.
type Channel struct {
	Name    string      `yaml:"name"`
	Channum int         `yaml:"channum"`
	Source  string      `yaml:"source"`
	Kind    ChannelKind `yaml:"kind"`
	Min     float64     `yaml:"min"`
	Max     float64     `yaml:"max"`
}

type channelsFile struct {
	Channels []Channel `yaml:"channels"`
}

// DefaultChannels is the compiled-in channel map of the DM2500i controller.
func DefaultChannels() []Channel {
	return []Channel{
		{Name: "inlet_moisture", Channum: 300, Source: "io_table", Kind: ChannelAnalog, Min: 0, Max: 100},
		{Name: "outlet_moisture", Channum: 301, Source: "io_table", Kind: ChannelAnalog, Min: 0, Max: 100},
		{Name: "inlet_temperature", Channum: 308, Source: "io_table", Kind: ChannelAnalog, Min: 0, Max: 450},
		{Name: "outlet_temperature", Channum: 307, Source: "io_table", Kind: ChannelAnalog, Min: 0, Max: 450},
		{Name: "discharge_rate", Channum: 49, Source: "io_table", Kind: ChannelAnalog, Min: 0, Max: 20000},
		{Name: "moisture_target", Channum: 20, Source: "io_table", Kind: ChannelAnalog, Min: 0, Max: 100},
		{Name: "apt", Channum: 50, Source: "io_table", Kind: ChannelAnalog, Min: -700, Max: 700},
		{Name: "mode", Channum: 121, Source: "cdp_table", Kind: ChannelCode},
		{Name: "dryer_state", Channum: 105, Source: "cdp_table", Kind: ChannelCode},
	}
}

// LoadChannels reads channel definitions from path, falling back to the
// compiled-in defaults when path is empty.
func LoadChannels(path string) ([]Channel, error) {
	if path == "" {
		return DefaultChannels(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}

	var f channelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse channels file: %w", err)
	}
	if len(f.Channels) == 0 {
		return nil, fmt.Errorf("channels file %s defines no channels", path)
	}

	for i, ch := range f.Channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("channel %d has no name", i)
		}
		if ch.Kind == "" {
			f.Channels[i].Kind = ChannelAnalog
		}
	}

	return f.Channels, nil
}
