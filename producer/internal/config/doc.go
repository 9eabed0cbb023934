// Package config loads the producer configuration from the `producer:` section
// of config.yaml.
//
// Load(path) fills defaults, unmarshals and validates. Watch reloads the file
// on change; the producer applies log_level and the kitchen section live.
package config
