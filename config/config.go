package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the configuration for the wopihost server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotationPeriod  int    `hcl:"log_rotation_period,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	Listeners []ListenerBlock `hcl:"listener,block"`
	Wopi      *WopiBlock      `hcl:"wopi,block"`
	Storage   *StorageBlock   `hcl:"storage,block"`
	Rights    *RightsBlock    `hcl:"rights,block"`
}

// WopiBlock is the tenant-facing protocol configuration.
type WopiBlock struct {
	// ServerURL is the editor (WOPI client) base URL, used for the
	// discovery document.
	ServerURL string `hcl:"server_url"`

	// Enabled gates token issuance. Off by default: a tenant opts in.
	Enabled bool `hcl:"enabled,optional"`

	// TokenTimeout is the token lifetime as a duration string. Tokens
	// default to five hours.
	TokenTimeout string `hcl:"token_timeout,optional"`

	// URLEncodeTokens makes the handlers accept base64url-encoded token
	// and file id parameters, for deployments whose frontend encodes
	// them before building URLs.
	URLEncodeTokens bool `hcl:"url_encode_tokens,optional"`

	// PostMessageOrigin overrides the origin reported to the editor's
	// PostMessage API. Defaults to the request's own origin.
	PostMessageOrigin string `hcl:"post_message_origin,optional"`

	// DiscoveryCacheTTL bounds how long resolved discovery results are
	// reused. Defaults to one hour.
	DiscoveryCacheTTL string `hcl:"discovery_cache_ttl,optional"`

	// DisplayNames maps principal ids to the names shown in the editor.
	DisplayNames map[string]string `hcl:"display_names,optional"`
}

// TokenTimeoutDuration parses TokenTimeout, defaulting to five hours.
func (w *WopiBlock) TokenTimeoutDuration() (time.Duration, error) {
	if w.TokenTimeout == "" {
		return 5 * time.Hour, nil
	}
	d, err := parseutil.ParseDurationSecond(w.TokenTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing token_timeout %q: %w", w.TokenTimeout, err)
	}
	return d, nil
}

// DiscoveryCacheTTLDuration parses DiscoveryCacheTTL, defaulting to one
// hour.
func (w *WopiBlock) DiscoveryCacheTTLDuration() (time.Duration, error) {
	if w.DiscoveryCacheTTL == "" {
		return time.Hour, nil
	}
	d, err := parseutil.ParseDurationSecond(w.DiscoveryCacheTTL)
	if err != nil {
		return 0, fmt.Errorf("parsing discovery_cache_ttl %q: %w", w.DiscoveryCacheTTL, err)
	}
	return d, nil
}

// StorageBlock selects the content store backend.
type StorageBlock struct {
	Type string `hcl:"type,label"` // "file" or "inmem"

	// Path is the content root for the file backend.
	Path string `hcl:"path,optional"`
}

// Config returns the storage configuration as a map for the backend
// factories.
func (s *StorageBlock) Config() map[string]string {
	conf := map[string]string{"type": s.Type}
	if s.Path != "" {
		conf["path"] = s.Path
	}
	return conf
}

// RightsBlock selects the capability resolver.
type RightsBlock struct {
	Type string `hcl:"type,label"` // "policy" or "open"

	// Path is the HCL policy file for the policy resolver.
	Path string `hcl:"path,optional"`
}

type ListenerBlock struct {
	Name        string `hcl:"name,label"`
	Address     string `hcl:"address"`
	TLSCertFile string `hcl:"tls_cert_file,optional"`
	TLSKeyFile  string `hcl:"tls_key_file,optional"`
	TLSEnabled  bool   `hcl:"tls_enabled,optional"`
}

// LoadConfig reads and decodes an HCL configuration file.
func LoadConfig(configFile string) (*Config, error) {
	var config Config
	if err := hclsimple.DecodeFile(configFile, nil, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if len(c.Listeners) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one listener block is required"))
	}
	for _, ln := range c.Listeners {
		if ln.Address == "" {
			result = multierror.Append(result, fmt.Errorf("listener %q: address is required", ln.Name))
		}
		if ln.TLSEnabled && (ln.TLSCertFile == "" || ln.TLSKeyFile == "") {
			result = multierror.Append(result, fmt.Errorf("listener %q: tls_cert_file and tls_key_file are required when tls_enabled", ln.Name))
		}
	}

	if c.Wopi == nil {
		result = multierror.Append(result, fmt.Errorf("a wopi block is required"))
	} else {
		if c.Wopi.ServerURL == "" {
			result = multierror.Append(result, fmt.Errorf("wopi: server_url is required"))
		}
		if _, err := c.Wopi.TokenTimeoutDuration(); err != nil {
			result = multierror.Append(result, fmt.Errorf("wopi: %w", err))
		}
		if _, err := c.Wopi.DiscoveryCacheTTLDuration(); err != nil {
			result = multierror.Append(result, fmt.Errorf("wopi: %w", err))
		}
	}

	if c.Storage == nil {
		result = multierror.Append(result, fmt.Errorf("a storage block is required"))
	} else {
		switch c.Storage.Type {
		case "file":
			if c.Storage.Path == "" {
				result = multierror.Append(result, fmt.Errorf("storage \"file\": path is required"))
			}
		case "inmem":
		default:
			result = multierror.Append(result, fmt.Errorf("unknown storage type %q", c.Storage.Type))
		}
	}

	if c.Rights == nil {
		result = multierror.Append(result, fmt.Errorf("a rights block is required"))
	} else {
		switch c.Rights.Type {
		case "policy":
			if c.Rights.Path == "" {
				result = multierror.Append(result, fmt.Errorf("rights \"policy\": path is required"))
			}
		case "open":
		default:
			result = multierror.Append(result, fmt.Errorf("unknown rights type %q", c.Rights.Type))
		}
	}

	return result.ErrorOrNil()
}

// GetListenerByName returns a listener by its name label.
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for i := range c.Listeners {
		if c.Listeners[i].Name == name {
			return &c.Listeners[i], nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}
