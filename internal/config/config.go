// Package config loads the city catalog and service settings.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"geoplan/internal/model"
)

// Config holds runtime settings. Env vars override file values.
type Config struct {
	Port        string       `yaml:"port"`
	DatabaseURL string       `yaml:"database_url"`
	RedisURL    string       `yaml:"redis_url"`
	AdminToken  string       `yaml:"admin_token"`
	Cities      []model.City `yaml:"cities"`
}

// DefaultCity is the fallback when no catalog is configured or reachable.
var DefaultCity = model.City{
	Name:    "delhi",
	OSMFile: "delhi.osm.pbf",
	Center:  model.GeoPoint{Lat: 28.6139, Lng: 77.2090},
}

// Load reads the optional YAML catalog named by CITIES_FILE and applies env
// overrides. Without a catalog the default city is used; a CITIES_FILE that
// cannot be read or parsed is an error.
func Load() (Config, error) {
	cfg := Config{Port: "8080"}
	if path := os.Getenv("CITIES_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read cities file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse cities file: %w", err)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if len(cfg.Cities) == 0 {
		cfg.Cities = []model.City{DefaultCity}
	}
	return cfg, nil
}

// CityByName looks up a configured city.
func (c Config) CityByName(name string) (model.City, bool) {
	for _, city := range c.Cities {
		if city.Name == name {
			return city, true
		}
	}
	return model.City{}, false
}
