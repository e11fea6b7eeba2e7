package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mandato/internal/domain"
)

// Config models mandato.yml. It is stored in the database and imported
// explicitly; the file on disk is only a seed.
type Config struct {
	Engine struct {
		// ExpiringSoonDays is the look-ahead window for the expiring-soon KPI.
		ExpiringSoonDays int `yaml:"expiring_soon_days"`
		// Commission rate bounds offered by clients at creation time. The
		// engine itself accepts the full 0..100 range.
		Commission struct {
			MinRate float64 `yaml:"min_rate"`
			MaxRate float64 `yaml:"max_rate"`
		} `yaml:"commission"`
	} `yaml:"engine"`
	Permissions struct {
		Catalog map[string]struct {
			Group       string `yaml:"group"`
			Description string `yaml:"description"`
		} `yaml:"catalog"`
		DefaultGrant []string `yaml:"default_grant"`
	} `yaml:"permissions"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.ExpiringSoonDays <= 0 {
		return fmt.Errorf("config.engine.expiring_soon_days must be positive")
	}
	min, max := c.Engine.Commission.MinRate, c.Engine.Commission.MaxRate
	if min < 0 || max > 100 || min > max {
		return fmt.Errorf("config.engine.commission bounds must satisfy 0 <= min <= max <= 100")
	}
	for key := range c.Permissions.Catalog {
		if !domain.ValidPermissionKey(key) {
			return fmt.Errorf("config.permissions.catalog has unknown capability %s", key)
		}
	}
	for _, key := range c.Permissions.DefaultGrant {
		if !domain.ValidPermissionKey(key) {
			return fmt.Errorf("config.permissions.default_grant has unknown capability %s", key)
		}
		if len(c.Permissions.Catalog) > 0 {
			if _, ok := c.Permissions.Catalog[key]; !ok {
				return fmt.Errorf("default grant capability %s not in catalog", key)
			}
		}
	}
	return nil
}

// DefaultGrant builds the permission set granted to new mandates.
func (c *Config) DefaultGrant() domain.PermissionSet {
	if len(c.Permissions.DefaultGrant) == 0 {
		return domain.DefaultPermissions()
	}
	partial := map[string]bool{}
	for _, key := range c.Permissions.DefaultGrant {
		partial[key] = true
	}
	return domain.PermissionSet{}.Merge(partial)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  expiring_soon_days: 30
  commission:
    min_rate: 1
    max_rate: 20

permissions:
  catalog:
    can_view_properties:
      group: property_management
      description: "View delegated properties"
    can_edit_properties:
      group: property_management
      description: "Edit property details"
    can_create_properties:
      group: property_management
      description: "Create properties on behalf of the owner"
    can_delete_properties:
      group: property_management
      description: "Delete properties"
    can_view_applications:
      group: applications_leases
      description: "View rental applications"
    can_manage_applications:
      group: applications_leases
      description: "Accept or reject rental applications"
    can_create_leases:
      group: applications_leases
      description: "Create leases with tenants"
    can_view_financials:
      group: financial_maintenance
      description: "View rents and financial reports"
    can_manage_maintenance:
      group: financial_maintenance
      description: "Schedule and track maintenance work"
    can_contact_tenants:
      group: communication_documents
      description: "Contact tenants directly"
    can_manage_documents:
      group: communication_documents
      description: "Upload and manage documents"

  default_grant: [can_view_properties, can_view_applications, can_contact_tenants]
`
