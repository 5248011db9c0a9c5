package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// tiersFile is the on-disk shape of a tier override file:
//
//	tiers:
//	  free:
//	    limit: 100
//	    window: 1h
//	  premium:
//	    limit: 1000
//	    window: 1h
type tiersFile struct {
	Tiers map[string]tierYAML `yaml:"tiers"`
}

type tierYAML struct {
	Limit  int64  `yaml:"limit"`
	Window string `yaml:"window"`
}

// LoadTiers reads tier overrides from a YAML file and merges them over the
// platform defaults, so a file only needs to name the tiers it changes.
// Unknown tier names are rejected; a typo must not silently create a dead
// tier while the intended one keeps its default.
func LoadTiers(path string) (map[string]Tier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}

	var f tiersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}

	tiers := DefaultTiers()
	for name, y := range f.Tiers {
		if _, ok := tiers[name]; !ok {
			return nil, fmt.Errorf("unknown tier %q in %s", name, path)
		}
		if y.Limit <= 0 {
			return nil, fmt.Errorf("tier %q: limit must be positive", name)
		}
		window := time.Hour
		if y.Window != "" {
			window, err = time.ParseDuration(y.Window)
			if err != nil {
				return nil, fmt.Errorf("tier %q: invalid window: %w", name, err)
			}
			if window <= 0 {
				return nil, fmt.Errorf("tier %q: window must be positive", name)
			}
		}
		tiers[name] = Tier{Name: name, Limit: y.Limit, Window: window}
	}
	return tiers, nil
}
