package ir

// Config is the top-level desired-state document.
type Config struct {
	Providers map[string]map[string]string `pkl:"providers" json:"providers,omitempty"`
	Resources []*Resource                  `pkl:"resources" json:"resources"`
	Outputs   map[string]any               `pkl:"outputs" json:"outputs,omitempty"`
}

// ProviderSettings returns the settings block for a provider, never nil.
func (c *Config) ProviderSettings(name string) map[string]string {
	if s, ok := c.Providers[name]; ok {
		return s
	}
	return map[string]string{}
}
