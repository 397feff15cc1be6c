package configs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PairsFile is the YAML subscription override:
//
//	venue: binance
//	url: wss://stream.binance.com:9443/ws
//	pairs: [BTCUSDT, ETHUSDT]
type PairsFile struct {
	Venue string   `yaml:"venue"`
	URL   string   `yaml:"url"`
	Pairs []string `yaml:"pairs"`
}

func LoadPairsFile(path string) (*PairsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "UPSTREAM_PAIRS_FILE", Reason: err.Error()}
	}

	var pf PairsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, &ConfigError{Field: "UPSTREAM_PAIRS_FILE", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return &pf, nil
}

// apply overrides only the fields the file sets.
func (pf *PairsFile) apply(u *UpstreamConfig) {
	if pf.Venue != "" {
		u.Venue = pf.Venue
	}
	if pf.URL != "" {
		u.URL = pf.URL
	}
	if len(pf.Pairs) > 0 {
		u.Pairs = pf.Pairs
	}
}
