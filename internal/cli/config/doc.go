// Package config holds wamesh-cli's own settings file, ~/.wamesh/cli.yaml:
// named connection profiles (server URL and API key) and the default
// output format.
package config
