package settings

import (
	"fmt"
	"path/filepath"
)

// Args are the process options given on the command line.
type Args struct {
	Headless   bool
	LogDetail  int
	ClearLog   bool
	ConfigPath string
	Port       int
}

func DefaultArgs() Args {
	return Args{
		LogDetail:  1,
		ConfigPath: filepath.Join(defaultStoragePath(), "config.yaml"),
	}
}

func (a Args) Validate() error {
	if a.LogDetail < 0 || a.LogDetail > 2 {
		return fmt.Errorf("logdetail must be 0 (errors), 1 (warnings) or 2 (info), got %d", a.LogDetail)
	}
	if a.Port != 0 && (a.Port < 1 || a.Port > 65535) {
		return fmt.Errorf("port number must be an integer between 1 and 65535")
	}
	if a.Headless && a.ConfigPath == "" {
		return fmt.Errorf("headless mode requires a configpath")
	}
	return nil
}

// Options turns flags that shadow settings into overrides.
func (a Args) Options() []Option {
	var opts []Option
	if a.Port != 0 {
		opts = append(opts, WithOverride("PORT", a.Port))
	}
	return opts
}
