/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

var allowedLogLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERR", "ERROR"}

// AllowedLogLevels returns the accepted level names.
func AllowedLogLevels() []string {
	c := make([]string, len(allowedLogLevels))
	copy(c, allowedLogLevels)
	return c
}

// ValidateLogLevel reports whether level names a known level.
func ValidateLogLevel(level string) bool {
	upper := strings.ToUpper(level)
	for _, l := range allowedLogLevels {
		if l == upper {
			return true
		}
	}
	return false
}

// LevelFromString maps ERR to ERROR and defers to hclog for the rest.
func LevelFromString(level string) hclog.Level {
	if strings.ToUpper(level) == "ERR" {
		level = "ERROR"
	}
	return hclog.LevelFromString(level)
}

// Config is used to set up logging.
type Config struct {
	// Level is the minimum level to be logged.
	Level string `hcl:"level" mapstructure:"level"`

	// JSON switches the output to JSON lines.
	JSON bool `hcl:"json" mapstructure:"json"`

	// Name prefixes every log line.
	Name string `hcl:"name" mapstructure:"name"`
}

// Setup returns a logger writing to out, or stderr when out is nil.
func Setup(cfg Config, out io.Writer) (hclog.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if !ValidateLogLevel(cfg.Level) {
		return nil, fmt.Errorf("invalid log level: %s. Valid log levels are: %v", cfg.Level, allowedLogLevels)
	}
	if out == nil {
		out = os.Stderr
	}

	return hclog.New(&hclog.LoggerOptions{
		Level:      LevelFromString(cfg.Level),
		Name:       cfg.Name,
		Output:     out,
		JSONFormat: cfg.JSON,
	}), nil
}
