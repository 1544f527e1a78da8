package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the lattice configuration file (~/.config/lattice/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	TokensPath string `yaml:"tokens_path"`

	// Search defaults
	BeamSize    *int64   `yaml:"beam_size"`
	NBest       *int64   `yaml:"nbest"`
	CTCWeight   *float64 `yaml:"ctc_weight"`
	LMWeight    *float64 `yaml:"lm_weight"`
	Penalty     *float64 `yaml:"penalty"`
	MaxLenRatio *float64 `yaml:"maxlenratio"`
	MinLenRatio *float64 `yaml:"minlenratio"`
	LengthNorm  *bool    `yaml:"length_norm"`

	// Transducer defaults
	SearchType string `yaml:"search_type"`

	// Streaming defaults
	BlockSize *int64 `yaml:"block_size"`
	HopSize   *int64 `yaml:"hop_size"`
	LookAhead *int64 `yaml:"look_ahead"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lattice", "config.yaml")
}

// applyLoggingConfig applies config file logging defaults when the
// corresponding CLI flag was not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applySearchConfig applies config file defaults to the shared search flags.
func applySearchConfig(c *cli.Command, cfg Config) {
	if cfg.TokensPath != "" && !c.IsSet("tokens") {
		tokensPath = cfg.TokensPath
	}
	if cfg.BeamSize != nil && !c.IsSet("beam-size") && !c.IsSet("beam_size") {
		beamSize = *cfg.BeamSize
	}
	if cfg.NBest != nil && !c.IsSet("nbest") {
		nbest = *cfg.NBest
	}
	if cfg.CTCWeight != nil && !c.IsSet("ctc-weight") && !c.IsSet("ctc_weight") {
		ctcWeight = *cfg.CTCWeight
	}
	if cfg.LMWeight != nil && !c.IsSet("lm-weight") && !c.IsSet("lm_weight") {
		lmWeight = *cfg.LMWeight
	}
	if cfg.Penalty != nil && !c.IsSet("penalty") {
		penalty = *cfg.Penalty
	}
	if cfg.MaxLenRatio != nil && !c.IsSet("maxlenratio") {
		maxLenRatio = *cfg.MaxLenRatio
	}
	if cfg.MinLenRatio != nil && !c.IsSet("minlenratio") {
		minLenRatio = *cfg.MinLenRatio
	}
	if cfg.LengthNorm != nil && !c.IsSet("length-norm") && !c.IsSet("length_norm") {
		lengthNorm = *cfg.LengthNorm
	}
}

// applyStreamConfig applies config file defaults to streaming geometry flags.
func applyStreamConfig(c *cli.Command, cfg Config, blockSize, hopSize, lookAhead *int64) {
	if cfg.BlockSize != nil && !c.IsSet("block-size") && !c.IsSet("block_size") {
		*blockSize = *cfg.BlockSize
	}
	if cfg.HopSize != nil && !c.IsSet("hop-size") && !c.IsSet("hop_size") {
		*hopSize = *cfg.HopSize
	}
	if cfg.LookAhead != nil && !c.IsSet("look-ahead") && !c.IsSet("look_ahead") {
		*lookAhead = *cfg.LookAhead
	}
}

// applyTransduceConfig applies config file defaults to transduce command
// variables.
func applyTransduceConfig(c *cli.Command, cfg Config, searchType *string, beam, nb *int64) {
	if cfg.SearchType != "" && !c.IsSet("search-type") && !c.IsSet("search_type") {
		*searchType = cfg.SearchType
	}
	if cfg.BeamSize != nil && !c.IsSet("beam-size") && !c.IsSet("beam_size") {
		*beam = *cfg.BeamSize
	}
	if cfg.NBest != nil && !c.IsSet("nbest") {
		*nb = *cfg.NBest
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
