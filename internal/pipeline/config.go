package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Credentials is the MySQL-family destination credential record of spec §6:
// a flat field list, loadable from a TOML config file and overridable by
// environment variables of the same name, upper-cased.
type Credentials struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	User              string `toml:"user"`
	Password          string `toml:"password"`
	Database          string `toml:"database"`
	SchemaPrefix      string `toml:"schema_prefix"`
	ConnectionTimeout int    `toml:"connection_timeout"`
}

// DSN formats creds as a go-sql-driver/mysql data source name.
func (c Credentials) DSN() string {
	timeout := c.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%ds",
		c.User, c.Password, c.Host, c.Port, c.Database, timeout)
}

// credentialsFile is the top-level TOML document a Credentials is loaded
// from: a single [credentials] table.
type credentialsFile struct {
	Credentials Credentials `toml:"credentials"`
}

// LoadCredentials reads a Credentials record from the TOML file at path,
// then applies any matching environment variable overrides.
func LoadCredentials(path string) (Credentials, error) {
	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return Credentials{}, fmt.Errorf("pipeline: decode credentials %q: %w", path, err)
	}
	applyEnvOverrides(&cf.Credentials)
	return cf.Credentials, nil
}

// applyEnvOverrides replaces each field of creds with the value of an
// environment variable named after the field's upper-cased TOML key, if
// set, per spec §6's "environment variables override any config field of
// the same name, upper-cased" rule.
func applyEnvOverrides(creds *Credentials) {
	if v, ok := os.LookupEnv("HOST"); ok {
		creds.Host = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			creds.Port = n
		}
	}
	if v, ok := os.LookupEnv("USER"); ok {
		creds.User = v
	}
	if v, ok := os.LookupEnv("PASSWORD"); ok {
		creds.Password = v
	}
	if v, ok := os.LookupEnv("DATABASE"); ok {
		creds.Database = v
	}
	if v, ok := os.LookupEnv("SCHEMA_PREFIX"); ok {
		creds.SchemaPrefix = v
	}
	if v, ok := os.LookupEnv("CONNECTION_TIMEOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			creds.ConnectionTimeout = n
		}
	}
}

// schemaName derives the destination namespace for creds.Database,
// optionally prefixed per SchemaPrefix.
func (c Credentials) schemaName() string {
	if c.SchemaPrefix == "" {
		return c.Database
	}
	return strings.TrimSuffix(c.SchemaPrefix, "_") + "_" + c.Database
}
