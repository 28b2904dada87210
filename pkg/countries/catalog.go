package countries

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCountry is returned when an operation references a country the
// catalog does not know about.
var ErrInvalidCountry = errors.New("country not configured")

type Country struct {
	Code             string    `yaml:"code" json:"code"`
	Name             string    `yaml:"name" json:"name"`
	Languages        []string  `yaml:"languages" json:"languages"`
	MissingSentinels []float64 `yaml:"missing_sentinels" json:"missing_sentinels"`
	DefaultStrategy  string    `yaml:"default_strategy" json:"default_strategy"`
}

type Catalog struct {
	Countries map[string]Country `yaml:"countries" json:"countries"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Countries) == 0 {
		return Catalog{}, fmt.Errorf("country catalog empty")
	}
	normalized := make(map[string]Country, len(cat.Countries))
	for code, c := range cat.Countries {
		key := strings.ToUpper(strings.TrimSpace(code))
		if c.Code == "" {
			c.Code = key
		}
		if len(c.MissingSentinels) == 0 {
			c.MissingSentinels = []float64{-10}
		}
		if c.DefaultStrategy == "" {
			c.DefaultStrategy = "semantic"
		}
		normalized[key] = c
	}
	cat.Countries = normalized
	return cat, nil
}

// Lookup resolves a country code case-insensitively.
func (c Catalog) Lookup(code string) (Country, error) {
	if c.Countries == nil {
		return Country{}, ErrInvalidCountry
	}
	country, ok := c.Countries[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Country{}, fmt.Errorf("%w: %s", ErrInvalidCountry, code)
	}
	return country, nil
}

func (c Catalog) Codes() []string {
	codes := make([]string, 0, len(c.Countries))
	for code := range c.Countries {
		codes = append(codes, code)
	}
	return codes
}

func DefaultCatalog() Catalog {
	return Catalog{Countries: map[string]Country{
		"CN": {
			Code:             "CN",
			Name:             "China",
			Languages:        []string{"zh", "en"},
			MissingSentinels: []float64{-10},
			DefaultStrategy:  "semantic",
		},
		"US": {
			Code:             "US",
			Name:             "United States",
			Languages:        []string{"en"},
			MissingSentinels: []float64{-10},
			DefaultStrategy:  "semantic",
		},
		"UK": {
			Code:             "UK",
			Name:             "United Kingdom",
			Languages:        []string{"en"},
			MissingSentinels: []float64{-10},
			DefaultStrategy:  "semantic",
		},
	}}
}
