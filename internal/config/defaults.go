// ABOUTME: Optional TOML defaults file that pre-seeds run options
// ABOUTME: Expands ${VAR} environment references before decoding

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Defaults is the decoded shape of the optional defaults file. Every field
// is overridable on the command line; the file only fills gaps.
type Defaults struct {
	Homeserver  string `toml:"homeserver"`
	Room        string `toml:"room"`
	Credentials string `toml:"credentials"`
	Store       string `toml:"store"`
	Proxy       string `toml:"proxy"`
	Output      string `toml:"output"`
	Separator   string `toml:"separator"`
	LogLevel    string `toml:"log_level"`

	TLS struct {
		SkipVerify bool   `toml:"skip_verify"`
		CABundle   string `toml:"ca_bundle"`
	} `toml:"tls"`
}

// envVarPattern matches ${VAR} references in the raw file.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadDefaults reads a defaults file, expanding environment variables. A
// missing file is not an error; runs work without one.
func LoadDefaults(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Defaults{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading defaults file: %w", err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(name)
	})

	var d Defaults
	if _, err := toml.Decode(expanded, &d); err != nil {
		return nil, fmt.Errorf("parsing defaults file %s: %w", path, err)
	}
	return &d, nil
}

// Apply fills unset option fields from the defaults file.
func (d *Defaults) Apply(o *Options) {
	if o.Homeserver == "" {
		o.Homeserver = d.Homeserver
	}
	if o.DefaultRoom == "" {
		o.DefaultRoom = d.Room
	}
	if o.CredentialsFile == "" {
		o.CredentialsFile = d.Credentials
	}
	if o.StoreDir == "" {
		o.StoreDir = d.Store
	}
	if o.Proxy == "" {
		o.Proxy = d.Proxy
	}
	if o.Output == "" {
		o.Output = d.Output
	}
	if o.Separator == "" {
		o.Separator = d.Separator
	}
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	if !o.TLSSkipVerify {
		o.TLSSkipVerify = d.TLS.SkipVerify
	}
	if o.TLSCABundle == "" {
		o.TLSCABundle = d.TLS.CABundle
	}
}
