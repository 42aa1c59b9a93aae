// Package config loads orchestrator configuration from a YAML file or from
// environment variables.
//
// YAML values may reference the environment as ${VAR_NAME}; unset variables
// expand to the empty string. Durations are written as Go duration strings
// ("30s", "1h") and parsed after unmarshaling. Fields missing from the file
// keep the defaults from Default.
package config
