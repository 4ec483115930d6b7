// Package config loads chatlink configuration from a YAML file with
// ${VAR} environment expansion, duration-string parsing, and CHATLINK_*
// environment variable overrides.
package config
