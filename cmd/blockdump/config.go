// Copyright (C) 2024 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"os"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/blockmap"
)

// Config names the application-defined block types a store was created with,
// so blockdump can print "documents" instead of "User(5)". It is optional:
// an absent or empty config falls back to the numeric type tag, same as
// db's definition.json/definition.yaml both unmarshaling into one struct via
// sigs.k8s.io/yaml's JSON round-trip.
type Config struct {
	Types map[uint32]string `json:"types"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) typeName(t blockmap.BlockType) string {
	if c != nil {
		if name, ok := c.Types[uint32(t)]; ok {
			return name
		}
	}
	return t.String()
}
