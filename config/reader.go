package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/mocap/logging"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment.
func Read(filePath string, logger logging.Logger) (*RigConfig, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. The input is JSON5; fields it leaves out keep their defaults.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*RigConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// JSON5 is decoded generically and re-encoded so field decoding, including embedded
	// sections and custom duration parsing, follows encoding/json.
	var tree interface{}
	if err := json5.Unmarshal(raw, &tree); err != nil {
		return nil, errors.Wrap(err, "failed to decode config from json5")
	}
	normalized, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", originalPath)
	}
	logger.Debugw("read config", "path", originalPath, "sensor", cfg.Sensor.Name)
	return cfg, nil
}

// ApplyLogPatterns sets the level of every given logger from the config's log patterns.
func (c *RigConfig) ApplyLogPatterns(loggers ...logging.Logger) {
	for _, l := range loggers {
		logging.ApplyPatterns(l, c.Log)
	}
}
