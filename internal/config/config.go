package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// Client registry (master patient index) endpoints. The login body is
	// sent verbatim; the match endpoint receives the translated Patient
	// resource with a bearer token from the login response.
	RegistryLoginURL  string        `mapstructure:"REGISTRY_LOGIN_URL"`
	RegistryLoginBody string        `mapstructure:"REGISTRY_LOGIN_BODY"`
	RegistryMatchURL  string        `mapstructure:"REGISTRY_MATCH_URL"`
	RegistryFHIRURL   string        `mapstructure:"REGISTRY_FHIR_URL"`
	RegistryTimeout   time.Duration `mapstructure:"REGISTRY_TIMEOUT"`
	RegistryTokenTTL  time.Duration `mapstructure:"REGISTRY_TOKEN_TTL"`

	// Concept references used by the cause-of-death synchronizer.
	CauseOfDeathConcept  string `mapstructure:"CAUSE_OF_DEATH_CONCEPT"`
	NoneConcept          string `mapstructure:"NONE_CONCEPT"`
	OtherNonCodedConcept string `mapstructure:"OTHER_NON_CODED_CONCEPT"`

	// Attribute types, by UUID. The contact point type feeds the outbound
	// telecom element; the registry ID type stores the telecom value of an
	// imported registry record.
	ContactPointAttributeType string `mapstructure:"CONTACT_POINT_ATTRIBUTE_TYPE"`
	RegistryIDAttributeType   string `mapstructure:"REGISTRY_ID_ATTRIBUTE_TYPE"`

	// Relationship slots shown on the edit form, e.g. "3a,7b".
	ShowRelationships bool   `mapstructure:"SHOW_RELATIONSHIPS"`
	RelationshipCodes string `mapstructure:"RELATIONSHIP_CODES"`

	// IdentifierSystems maps registry identifier-system URIs to local
	// identifier type UUIDs, in "system|uuid,system|uuid" form.
	IdentifierSystems string `mapstructure:"IDENTIFIER_SYSTEMS"`
	DefaultLocationID string `mapstructure:"DEFAULT_LOCATION_ID"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REGISTRY_TIMEOUT", "15s")
	v.SetDefault("REGISTRY_TOKEN_TTL", "5m")
	v.SetDefault("SHOW_RELATIONSHIPS", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"REGISTRY_LOGIN_URL", "REGISTRY_LOGIN_BODY", "REGISTRY_MATCH_URL",
		"REGISTRY_FHIR_URL", "REGISTRY_TIMEOUT", "REGISTRY_TOKEN_TTL",
		"CAUSE_OF_DEATH_CONCEPT", "NONE_CONCEPT", "OTHER_NON_CODED_CONCEPT",
		"CONTACT_POINT_ATTRIBUTE_TYPE", "REGISTRY_ID_ATTRIBUTE_TYPE",
		"SHOW_RELATIONSHIPS", "RELATIONSHIP_CODES",
		"IDENTIFIER_SYSTEMS", "DEFAULT_LOCATION_ID",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks settings that would otherwise fail at first use. Missing
// registry or concept configuration is not an error here: the dependent
// features degrade to no-ops and the gap is logged where it is noticed.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_ISSUER must be set outside development")
	}
	if c.RegistryTimeout <= 0 {
		return fmt.Errorf("REGISTRY_TIMEOUT must be positive, got %s", c.RegistryTimeout)
	}
	if _, err := c.IdentifierSystemMap(); err != nil {
		return err
	}
	if c.DefaultLocationID != "" {
		if _, err := uuid.Parse(c.DefaultLocationID); err != nil {
			return fmt.Errorf("DEFAULT_LOCATION_ID is not a valid UUID: %w", err)
		}
	}
	return nil
}

// IdentifierSystemMap parses IDENTIFIER_SYSTEMS into a system URI to
// identifier-type UUID map. Malformed pairs are rejected rather than
// silently dropped so a typo in configuration surfaces at startup.
func (c *Config) IdentifierSystemMap() (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID)
	if strings.TrimSpace(c.IdentifierSystems) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(c.IdentifierSystems, ",") {
		parts := strings.Split(pair, "|")
		if len(parts) != 2 {
			return nil, fmt.Errorf("IDENTIFIER_SYSTEMS entry %q is not in system|uuid form", pair)
		}
		system := strings.TrimSpace(parts[0])
		typeID, err := uuid.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("IDENTIFIER_SYSTEMS entry %q: %w", pair, err)
		}
		out[system] = typeID
	}
	return out, nil
}
