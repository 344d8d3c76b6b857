// Package config loads and validates gatherer configuration from YAML
// files, with ${VAR} environment expansion for secrets.
package config
