package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"libraai/internal/domain"
	"libraai/internal/session"
)

const defaultProfile = "default"

// UserConfig represents ~/.libra/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile represents a single named configuration profile. Token and User
// hold the persisted session of whoever signed in under this profile.
type Profile struct {
	Host   string            `yaml:"host,omitempty" json:"host,omitempty"`
	Token  string            `yaml:"token,omitempty" json:"token,omitempty"`
	User   *domain.Principal `yaml:"user,omitempty" json:"user,omitempty"`
	Output string            `yaml:"output,omitempty" json:"output,omitempty"`
}

func newUserConfig() *UserConfig {
	return &UserConfig{CurrentProfile: defaultProfile, Profiles: map[string]Profile{}}
}

// profileName resolves the profile to use for override.
func (c *UserConfig) profileName(override string) string {
	if override != "" {
		return override
	}
	if c.CurrentProfile != "" {
		return c.CurrentProfile
	}
	return defaultProfile
}

// ActiveProfile returns the profile to use based on the override or
// current-profile. An explicit override must name an existing profile.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	name := c.profileName(override)
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	if override != "" {
		return Profile{}, fmt.Errorf("profile %q not found", override)
	}
	return Profile{}, nil
}

// ConfigDir returns the path to ~/.libra/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".libra")
}

// ConfigPath returns the path to ~/.libra/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.libra/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// loadOrNewUserConfig is LoadUserConfig where a missing file is an empty config.
func loadOrNewUserConfig() (*UserConfig, error) {
	cfg, err := LoadUserConfig()
	if errors.Is(err, fs.ErrNotExist) {
		return newUserConfig(), nil
	}
	return cfg, err
}

// SaveUserConfig writes ~/.libra/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}

// profileStore persists the session in a named profile of the user config.
type profileStore struct {
	name string
}

var _ session.Store = (*profileStore)(nil)

func (s *profileStore) Load() (*session.Record, error) {
	cfg, err := loadOrNewUserConfig()
	if err != nil {
		return nil, err
	}
	p := cfg.Profiles[cfg.profileName(s.name)]
	if p.Token == "" {
		return nil, nil
	}
	return &session.Record{Token: p.Token, Principal: p.User}, nil
}

func (s *profileStore) Save(r session.Record) error {
	return s.update(func(p *Profile) {
		p.Token = r.Token
		p.User = r.Principal
	})
}

func (s *profileStore) Clear() error {
	return s.update(func(p *Profile) {
		p.Token = ""
		p.User = nil
	})
}

func (s *profileStore) update(fn func(*Profile)) error {
	cfg, err := loadOrNewUserConfig()
	if err != nil {
		return err
	}
	name := cfg.profileName(s.name)
	p := cfg.Profiles[name]
	fn(&p)
	cfg.Profiles[name] = p
	return SaveUserConfig(cfg)
}
