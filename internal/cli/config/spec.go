package config

// CLIConfig is the configuration for wamesh-cli.
type CLIConfig struct {
	// Output is the default output format: table, json or yaml.
	Output string `yaml:"output,omitempty"`

	// Current names the profile used when --profile is not given.
	Current string `yaml:"current,omitempty"`

	Profiles map[string]Profile `yaml:"profiles,omitempty"`
}

// Profile stores connection details for one server.
type Profile struct {
	Server string `yaml:"server"`
	APIKey string `yaml:"api_key,omitempty"`
}

// DefaultServer is used when neither flags nor a profile name a server.
const DefaultServer = "http://localhost:3000"

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Output:   "table",
		Profiles: make(map[string]Profile),
	}
}

// Profile returns the named profile, or the current one when name is
// empty. ok is false when no such profile exists.
func (c *CLIConfig) Profile(name string) (Profile, bool) {
	if name == "" {
		name = c.Current
	}
	p, ok := c.Profiles[name]
	return p, ok
}
