// Package secrets provides secure configuration loading for LLM provider
// credentials. Configuration comes from a YAML file with restrictive
// permissions; environment variables can override or replace it entirely.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSecretsDir is the default directory for secrets
	DefaultSecretsDir = ".secrets"
	// DefaultSecretsFile is the default filename for secrets
	DefaultSecretsFile = "aactschema-config.yaml"
	// SecretsFileEnvVar allows overriding the secrets file location
	SecretsFileEnvVar = "AACT_SECRETS_FILE"
	// SecureFileMode is the permission mode for the secrets file
	SecureFileMode = 0600
)

// Environment overrides. When AACT_LLM_PROVIDER is set, the secrets file is
// not required at all; the provider is assembled from the environment.
const (
	EnvProvider      = "AACT_LLM_PROVIDER"
	EnvAPIKey        = "AACT_LLM_API_KEY"
	EnvBaseURL       = "AACT_LLM_BASE_URL"
	EnvModel         = "AACT_LLM_MODEL"
	EnvContextWindow = "AACT_LLM_CONTEXT_WINDOW"
)

// Config represents the complete secrets configuration.
type Config struct {
	AI AIConfig `yaml:"ai"`
}

// AIConfig holds LLM provider configuration.
type AIConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       map[string]*Provider `yaml:"providers"`
}

// Provider represents one LLM provider configuration.
type Provider struct {
	APIKey        string `yaml:"api_key,omitempty"`        // Required for cloud providers
	BaseURL       string `yaml:"base_url,omitempty"`       // Required for local providers, optional for cloud
	Model         string `yaml:"model,omitempty"`          // Optional, uses smart defaults
	ContextWindow int    `yaml:"context_window,omitempty"` // Optional, context window size in tokens (for Ollama/local providers)
}

// ProviderType categorizes providers by their API style.
type ProviderType int

const (
	ProviderTypeCloud ProviderType = iota // Requires API key
	ProviderTypeLocal                     // Uses local base_url, no API key
)

// KnownProviders maps provider names to their types and default base URLs.
var KnownProviders = map[string]struct {
	Type       ProviderType
	DefaultURL string
}{
	"claude":   {ProviderTypeCloud, "https://api.anthropic.com"},
	"openai":   {ProviderTypeCloud, "https://api.openai.com"},
	"gemini":   {ProviderTypeCloud, "https://generativelanguage.googleapis.com"},
	"ollama":   {ProviderTypeLocal, "http://localhost:11434"},
	"lmstudio": {ProviderTypeLocal, "http://localhost:1234"},
}

// DefaultModels maps providers to their default models.
var DefaultModels = map[string]string{
	"claude":   "claude-sonnet-4-20250514",
	"openai":   "gpt-4o",
	"gemini":   "gemini-2.0-flash",
	"ollama":   "llama3",
	"lmstudio": "local-model",
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configErr    error
)

// Load loads the secrets configuration, caching the result. An environment
// override (AACT_LLM_PROVIDER) wins over the file; without either, a
// SecretsNotFoundError is returned.
func Load() (*Config, error) {
	configOnce.Do(func() {
		globalConfig, configErr = load()
	})
	return globalConfig, configErr
}

// Reset clears the cached config (useful for testing).
func Reset() {
	configOnce = sync.Once{}
	globalConfig = nil
	configErr = nil
}

func load() (*Config, error) {
	if name := os.Getenv(EnvProvider); name != "" {
		return fromEnv(name)
	}
	return loadFromFile()
}

// fromEnv assembles a single-provider config from environment variables.
func fromEnv(name string) (*Config, error) {
	p := &Provider{
		APIKey:  os.Getenv(EnvAPIKey),
		BaseURL: os.Getenv(EnvBaseURL),
		Model:   os.Getenv(EnvModel),
	}
	if cw := os.Getenv(EnvContextWindow); cw != "" {
		n, err := strconv.Atoi(cw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvContextWindow, err)
		}
		p.ContextWindow = n
	}
	cfg := &Config{AI: AIConfig{
		DefaultProvider: name,
		Providers:       map[string]*Provider{name: p},
	}}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetSecretsPath returns the path to the secrets file.
func GetSecretsPath() string {
	if envPath := os.Getenv(SecretsFileEnvVar); envPath != "" {
		return envPath
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultSecretsDir, DefaultSecretsFile)
	}
	return filepath.Join(homeDir, DefaultSecretsDir, DefaultSecretsFile)
}

func loadFromFile() (*Config, error) {
	path := GetSecretsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &SecretsNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}

	// Reject world- or group-readable files: they hold API keys.
	info, err := os.Stat(path)
	if err == nil {
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			return nil, fmt.Errorf("secrets file %s has insecure permissions (%04o). "+
				"Other users can read your API keys. Run: chmod 600 %s", path, mode, path)
		}
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.AI.DefaultProvider != "" {
		provider, ok := c.AI.Providers[c.AI.DefaultProvider]
		if !ok {
			return fmt.Errorf("default provider %q not found in providers", c.AI.DefaultProvider)
		}
		if err := validateProvider(c.AI.DefaultProvider, provider); err != nil {
			return err
		}
	}
	return nil
}

func validateProvider(name string, p *Provider) error {
	known, isKnown := KnownProviders[name]

	if isKnown {
		if known.Type == ProviderTypeCloud && p.APIKey == "" {
			return fmt.Errorf("provider %q requires api_key", name)
		}
		if known.Type == ProviderTypeLocal && p.BaseURL == "" {
			p.BaseURL = known.DefaultURL
		}
	} else {
		// Unknown provider, assumed OpenAI-compatible - must have either
		// an API key or a base URL.
		if p.APIKey == "" && p.BaseURL == "" {
			return fmt.Errorf("provider %q requires either api_key or base_url", name)
		}
	}

	return nil
}

// GetDefaultProvider returns the configured default LLM provider.
func (c *Config) GetDefaultProvider() (*Provider, string, error) {
	if c.AI.DefaultProvider == "" {
		return nil, "", fmt.Errorf("no default provider configured")
	}
	provider, ok := c.AI.Providers[c.AI.DefaultProvider]
	if !ok {
		return nil, "", fmt.Errorf("default provider %q not found", c.AI.DefaultProvider)
	}
	return provider, c.AI.DefaultProvider, nil
}

// GetProvider returns a specific LLM provider by name.
func (c *Config) GetProvider(name string) (*Provider, error) {
	provider, ok := c.AI.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", name)
	}
	return provider, nil
}

// GetEffectiveBaseURL returns the base URL for a provider, using defaults if not specified.
func (p *Provider) GetEffectiveBaseURL(providerName string) string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	if known, ok := KnownProviders[providerName]; ok {
		return known.DefaultURL
	}
	return ""
}

// GetEffectiveModel returns the model for a provider, using defaults if not specified.
func (p *Provider) GetEffectiveModel(providerName string) string {
	if p.Model != "" {
		return p.Model
	}
	if defaultModel, ok := DefaultModels[providerName]; ok {
		return defaultModel
	}
	return ""
}

// GetEffectiveContextWindow returns the context window size for a provider.
// Returns the configured value if set, otherwise a conservative default of
// 8192 tokens that works with most local models.
func (p *Provider) GetEffectiveContextWindow() int {
	if p.ContextWindow > 0 {
		return p.ContextWindow
	}
	return 8192
}

// IsLocalProvider returns true if the provider is a local provider (no API key needed).
func IsLocalProvider(name string) bool {
	if known, ok := KnownProviders[name]; ok {
		return known.Type == ProviderTypeLocal
	}
	return false
}

// SecretsNotFoundError is returned when the secrets file doesn't exist.
type SecretsNotFoundError struct {
	Path string
}

func (e *SecretsNotFoundError) Error() string {
	return fmt.Sprintf(`secrets file not found: %s

Create %s with:

ai:
  default_provider: claude
  providers:
    claude:
      api_key: "your-api-key"

or configure a provider via environment variables:

  AACT_LLM_PROVIDER=ollama AACT_LLM_BASE_URL=http://localhost:11434
`, e.Path, e.Path)
}

// GenerateTemplate returns a template secrets file content.
func GenerateTemplate() string {
	return `# aactschema secrets configuration
# This file contains API keys and should not be committed to version control.
# Permissions should be restricted: chmod 600 ~/.secrets/aactschema-config.yaml

ai:
  default_provider: claude  # Which provider to use by default

  providers:
    # Cloud providers (require API key)
    claude:
      api_key: ""  # Get from https://console.anthropic.com/
      model: "claude-sonnet-4-20250514"  # optional

    openai:
      api_key: ""  # Get from https://platform.openai.com/
      model: "gpt-4o"  # optional

    gemini:
      api_key: ""  # Get from https://makersuite.google.com/
      model: "gemini-2.0-flash"  # optional

    # Local providers (no API key needed)
    ollama:
      base_url: "http://localhost:11434"
      model: "llama3"
      # context_window: 8192  # optional, defaults to 8192 (conservative)

    lmstudio:
      base_url: "http://localhost:1234/v1"
      model: "local-model"
`
}
