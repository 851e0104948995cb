package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/pgapi/pkg/config.Version=...".
var Version = "dev"

// Config holds application-wide configuration
type Config struct {
	REST    RESTConfig     `mapstructure:"rest"`
	Schema  map[string]any `mapstructure:"schema"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

type RESTConfig struct {
	PG         PGConfig     `mapstructure:"pg"`
	ListenAddr string       `mapstructure:"listenAddr"`
	BaseURL    string       `mapstructure:"baseURL"`
	Page       PageConfig   `mapstructure:"page"`
	Schema     SchemaConfig `mapstructure:"schema"`
	TLS        TLSConfig    `mapstructure:"tls"`
	// ReadHeaderTimeout bounds how long a client may take to send request headers.
	ReadHeaderTimeout string `mapstructure:"readHeaderTimeout"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type PGConfig struct {
	ConnString     string `mapstructure:"connString"`
	ConnectTimeout string `mapstructure:"connectTimeout"`
}

type PageConfig struct {
	DefaultLimit      int `mapstructure:"defaultLimit"`
	MaxLimit          int `mapstructure:"maxLimit"`
	RelationshipLimit int `mapstructure:"relationshipLimit"`
}

// SchemaConfig selects where the resource model comes from. With Introspect set the
// tables of Schemas are read from the database, otherwise the top-level schema section
// is used.
type SchemaConfig struct {
	Introspect bool     `mapstructure:"introspect"`
	Schemas    []string `mapstructure:"schemas"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		ListenAddr:        ":8080",
		ReadHeaderTimeout: "10s",
		PG:                PGConfig{ConnectTimeout: "30s"},
		Page: PageConfig{
			DefaultLimit: query.DefaultLimit,
			MaxLimit:     query.MaxLimit,
		},
		Schema: SchemaConfig{Schemas: []string{"public"}},
	}
}

func setDefaults(v *viper.Viper) {
	def := DefaultRESTConfig()
	v.SetDefault("rest.listenAddr", def.ListenAddr)
	v.SetDefault("rest.pg.connectTimeout", def.PG.ConnectTimeout)
	v.SetDefault("rest.page.defaultLimit", def.Page.DefaultLimit)
	v.SetDefault("rest.page.maxLimit", def.Page.MaxLimit)
	v.SetDefault("rest.page.relationshipLimit", 0)
	v.SetDefault("rest.schema.introspect", false)
	v.SetDefault("rest.schema.schemas", def.Schema.Schemas)
	v.SetDefault("rest.pg.connString", "")
	v.SetDefault("rest.baseURL", "")
	v.SetDefault("rest.readHeaderTimeout", def.ReadHeaderTimeout)
	v.SetDefault("rest.tls.certFile", "")
	v.SetDefault("rest.tls.keyFile", "")
	v.SetDefault("metrics.addr", "")
}

// Load reads config from file or environment. Environment variables use the PGAPI_
// prefix with dots replaced by underscores, e.g. PGAPI_REST_PG_CONNSTRING.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgapi")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PGAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the paging bounds and the server settings.
func (c *Config) Validate() error {
	if tls := c.REST.TLS; (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("rest.tls.certFile and rest.tls.keyFile must be set together")
	}
	if d := c.REST.ReadHeaderTimeout; d != "" {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("rest.readHeaderTimeout: %w", err)
		}
	}
	p := c.REST.Page
	if p.DefaultLimit < 1 {
		return fmt.Errorf("rest.page.defaultLimit must be positive, got %d", p.DefaultLimit)
	}
	if p.MaxLimit < p.DefaultLimit {
		return fmt.Errorf("rest.page.maxLimit (%d) is below rest.page.defaultLimit (%d)", p.MaxLimit, p.DefaultLimit)
	}
	if p.RelationshipLimit < 0 {
		return fmt.Errorf("rest.page.relationshipLimit must not be negative, got %d", p.RelationshipLimit)
	}
	return nil
}

// QueryOptions returns the paging options for the query parser.
func (c *Config) QueryOptions() query.Options {
	return query.Options{DefaultLimit: c.REST.Page.DefaultLimit, MaxLimit: c.REST.Page.MaxLimit}
}

// Declaration decodes the schema section. It is empty when the section is absent.
func (c *Config) Declaration() (schema.Declaration, error) {
	if len(c.Schema) == 0 {
		return schema.Declaration{}, nil
	}
	return schema.Decode(c.Schema)
}
