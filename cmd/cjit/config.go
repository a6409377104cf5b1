package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// config holds the handful of CLI-level knobs worth persisting across
// invocations rather than retyping as flags every time, read from an
// optional TOML file (spec ss1's "command-line driver... out of scope"
// leaves this entirely up to the driver).
type config struct {
	Entry string `toml:"entry"` // function get_function is called on after Finalize; defaults to "main"
	Debug bool   `toml:"debug"` // log each pipeline stage to stderr
}

// loadConfig reads path if it exists and returns the zero config
// otherwise; a missing file is not an error; anything else is.
func loadConfig(path string) (config, error) {
	var cfg config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}
