// Package confloader loads layered configuration with koanf.
//
// Priority (highest to lowest):
//
//  1. WAMESH_ prefixed environment variables
//  2. Legacy environment aliases (PORT, LOG_LEVEL, ...)
//  3. YAML configuration file
//  4. Defaults already present in the target struct
//
// A Watcher reports writes to the configuration file so that settings
// such as the log level can be reloaded without a restart.
package confloader
