package profile

import "fmt"

// ConfigurationError reports a missing or invalid profile field.
type ConfigurationError struct {
	Profile string
	Field   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Profile == "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration: environment %q: %s: %s", e.Profile, e.Field, e.Reason)
}
