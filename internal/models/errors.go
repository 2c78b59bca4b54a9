package models

import "fmt"

// ConfigurationError reports a broken collection definition.
// It is a deployment defect and must not be retried.
type ConfigurationError struct {
	Collection string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s for collection %s", e.Reason, e.Collection)
}
