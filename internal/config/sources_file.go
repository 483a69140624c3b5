package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// sourcesFile mirrors the SOURCES_FILE layout:
//
//	sources:
//	  coingecko:
//	    rate_limit: 2s
//	  xlsx:
//	    enabled: true
//	    path: data/coins.xlsx
type sourcesFile struct {
	Sources map[string]sourceOverride `yaml:"sources"`
}

type sourceOverride struct {
	Enabled   *bool  `yaml:"enabled"`
	RateLimit string `yaml:"rate_limit"`
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	CoinLimit int    `yaml:"coin_limit"`
}

func (s *SourcesConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sources file: %w", err)
	}
	return s.applyYAML(data)
}

func (s *SourcesConfig) applyYAML(data []byte) error {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse sources file: %w", err)
	}

	for name, o := range f.Sources {
		switch name {
		case "coinpaprika":
			if err := o.applyAPI(&s.CoinPaprika); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		case "coingecko":
			if err := o.applyAPI(&s.CoinGecko); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		case "csv":
			o.applyFile(&s.CSV)
		case "xlsx":
			o.applyFile(&s.XLSX)
		default:
			return fmt.Errorf("unknown source %q", name)
		}
	}
	return nil
}

func (o sourceOverride) applyAPI(c *APISourceConfig) error {
	if o.Enabled != nil {
		c.Enabled = *o.Enabled
	}
	if o.RateLimit != "" {
		d, err := time.ParseDuration(o.RateLimit)
		if err != nil {
			return fmt.Errorf("invalid rate_limit: %w", err)
		}
		c.RateLimit = d
	}
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.CoinLimit > 0 {
		c.CoinLimit = o.CoinLimit
	}
	return nil
}

func (o sourceOverride) applyFile(c *FileSourceConfig) {
	if o.Path != "" {
		c.Path = o.Path
		c.Enabled = true
	}
	if o.Enabled != nil {
		c.Enabled = *o.Enabled
	}
}
