// Package config loads and saves the loxctl configuration file.
//
// The file is YAML. Before parsing, ${VAR} and ${VAR:default} references are
// replaced with environment values, so secrets can stay out of the file:
//
//	version: 1
//	miniserver:
//	  host: 192.168.1.77
//	  user: admin
//	  password: ${LOXONE_PASSWORD}
//	timeouts:
//	  user_error_delay: 2m
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/loxone/config.yaml or $HOME/.config/loxone/config.yaml
//   - macOS: $HOME/.config/loxone/config.yaml
//   - Windows: %LOCALAPPDATA%\loxone\config.yaml
//
// Tokens obtained from the Miniserver are not kept here; they live in the
// settings database next to the configuration file.
package config
