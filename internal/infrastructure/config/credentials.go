package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"encapsia.io/cli/internal/application/ports"
)

// Default names of the environment variables holding server credentials
const (
	DefaultHostEnvVar  = "ENCAPSIA_HOST"
	DefaultTokenEnvVar = "ENCAPSIA_TOKEN"
)

// ErrNoCredentials is returned when no server credentials can be found
var ErrNoCredentials = errors.New("no server credentials found")

// CredentialOptions says where to look for server credentials
type CredentialOptions struct {
	// Host names an entry in the credentials file. When set, the environment is not consulted.
	Host string

	HostEnvVar  string
	TokenEnvVar string

	// File is the credentials file. Defaults to ~/.encapsia/credentials.toml.
	File string
}

// DefaultCredentialsFile returns ~/.encapsia/credentials.toml
func DefaultCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".encapsia", "credentials.toml")
	}
	return filepath.Join(home, ".encapsia", "credentials.toml")
}

// LoadCredentials finds the server URL and token, either from a named entry in
// the credentials file or from the environment
func LoadCredentials(opts CredentialOptions) (ports.Credentials, error) {
	if opts.HostEnvVar == "" {
		opts.HostEnvVar = DefaultHostEnvVar
	}
	if opts.TokenEnvVar == "" {
		opts.TokenEnvVar = DefaultTokenEnvVar
	}
	if opts.File == "" {
		opts.File = DefaultCredentialsFile()
	}

	var creds ports.Credentials
	if opts.Host != "" {
		entries, err := readCredentialsFile(opts.File)
		if err != nil {
			return ports.Credentials{}, err
		}
		entry, ok := entries[opts.Host]
		if !ok {
			return ports.Credentials{}, fmt.Errorf("%w: no entry %q in %s", ErrNoCredentials, opts.Host, opts.File)
		}
		creds = entry
	} else {
		creds = ports.Credentials{
			Host:  os.Getenv(opts.HostEnvVar),
			Token: os.Getenv(opts.TokenEnvVar),
		}
		if creds.Host == "" || creds.Token == "" {
			return ports.Credentials{}, fmt.Errorf("%w: use --host or set %s and %s", ErrNoCredentials, opts.HostEnvVar, opts.TokenEnvVar)
		}
	}

	if creds.Host == "" || creds.Token == "" {
		return ports.Credentials{}, fmt.Errorf("%w: entry %q needs both host and token", ErrNoCredentials, opts.Host)
	}
	creds.Host = NormalizeHost(creds.Host)
	return creds, nil
}

func readCredentialsFile(path string) (map[string]ports.Credentials, error) {
	entries := make(map[string]ports.Credentials)
	_, err := toml.DecodeFile(path, &entries)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrNoCredentials, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return entries, nil
}

// NormalizeHost adds https:// to a bare hostname and drops trailing slashes
func NormalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host
}
