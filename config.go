// Copyright 2023-2024 The Tern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tern

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Config carries engine tunables. The zero value works; LoadConfig reads
// overrides from a YAML file.
type Config struct {
	// LogLevel sets the logrus level: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
	// IndexChunkWidth is a radix bits-per-level setting, kept in [4, 10] by
	// LoadConfig. Search indexes are built with index.DefaultChunkWidth;
	// this value is not passed to them.
	IndexChunkWidth uint `yaml:"index_chunk_width"`
	// CommitOnClose is read from the configuration file. Group has no Close
	// method and no code consults this flag.
	CommitOnClose bool `yaml:"commit_on_close"`
}

// DefaultConfig returns the built-in tunables.
func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		IndexChunkWidth: 6,
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for absent
// keys.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "could not read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "could not parse config %s", path)
	}
	if cfg.IndexChunkWidth < 4 || cfg.IndexChunkWidth > 10 {
		cfg.IndexChunkWidth = DefaultConfig().IndexChunkWidth
	}
	return cfg, nil
}

func (c Config) applyLogLevel() {
	if c.LogLevel == "" {
		return
	}
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
}
