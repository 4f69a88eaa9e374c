package orchestrator

import "fmt"

// ConfigError wraps an invalid rules or policy configuration file. It is
// the only error Run ever returns; every other failure mode is encoded
// into the report itself (§7).
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("configuration error: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

func newConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Err: err}
}
