package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const credentialsFixture = `
[staging]
host = "staging.example.com"
token = "abc"

[local]
host = "http://localhost:8080/"
token = "dev"

[broken]
host = "broken.example.com"
`

func TestLoadCredentials_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	writeFile(t, path, credentialsFixture)

	tests := []struct {
		name      string
		host      string
		wantHost  string
		wantToken string
		wantErr   string
	}{
		{
			name:      "bare hostname gets https",
			host:      "staging",
			wantHost:  "https://staging.example.com",
			wantToken: "abc",
		},
		{
			name:      "explicit scheme kept",
			host:      "local",
			wantHost:  "http://localhost:8080",
			wantToken: "dev",
		},
		{
			name:    "unknown entry",
			host:    "production",
			wantErr: `no entry "production"`,
		},
		{
			name:    "entry without token",
			host:    "broken",
			wantErr: "needs both host and token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The environment is ignored when a host is named
			t.Setenv(DefaultHostEnvVar, "env.example.com")
			t.Setenv(DefaultTokenEnvVar, "env-token")

			creds, err := LoadCredentials(CredentialOptions{Host: tt.host, File: path})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNoCredentials)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, creds.Host)
			assert.Equal(t, tt.wantToken, creds.Token)
		})
	}
}

func TestLoadCredentials_MissingFile(t *testing.T) {
	_, err := LoadCredentials(CredentialOptions{Host: "staging", File: filepath.Join(t.TempDir(), "nope.toml")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestLoadCredentials_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	writeFile(t, path, "[staging\nhost = ")

	_, err := LoadCredentials(CredentialOptions{Host: "staging", File: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read credentials file")
	assert.NotErrorIs(t, err, ErrNoCredentials)
}

func TestLoadCredentials_FromEnvironment(t *testing.T) {
	t.Setenv(DefaultHostEnvVar, "tenant.example.com")
	t.Setenv(DefaultTokenEnvVar, "secret")

	creds, err := LoadCredentials(CredentialOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://tenant.example.com", creds.Host)
	assert.Equal(t, "secret", creds.Token)
}

func TestLoadCredentials_CustomEnvironmentNames(t *testing.T) {
	t.Setenv(DefaultHostEnvVar, "")
	t.Setenv(DefaultTokenEnvVar, "")
	t.Setenv("MY_HOST", "https://other.example.com")
	t.Setenv("MY_TOKEN", "t")

	creds, err := LoadCredentials(CredentialOptions{HostEnvVar: "MY_HOST", TokenEnvVar: "MY_TOKEN"})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com", creds.Host)
}

func TestLoadCredentials_MissingEnvironment(t *testing.T) {
	t.Setenv(DefaultHostEnvVar, "tenant.example.com")
	t.Setenv(DefaultTokenEnvVar, "")

	_, err := LoadCredentials(CredentialOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Contains(t, err.Error(), DefaultTokenEnvVar)
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "https://a.example.com", NormalizeHost(" a.example.com/ "))
	assert.Equal(t, "http://a:1", NormalizeHost("http://a:1"))
}
