package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/tracekit/tracekit/log"
)

// ErrInvalidConfig wraps every configuration problem found while loading or
// validating a file.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalidf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, a...))
}

// readFile reads a configuration file, refusing directories.
func readFile(path string) ([]byte, error) {
	if path == "" {
		return nil, invalidf("configuration path is not defined")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, log.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, log.Errorf("config path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, log.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}
