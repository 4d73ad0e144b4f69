// Package secrets resolves the credentials the pipeline needs (EHR login,
// target-store service account) without letting them leak into logs.
package secrets

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Names of the secrets consumed by the pipeline.
const (
	EHRUsername             = "BULUT_KLINIK_USERNAME"
	EHRPassword             = "BULUT_KLINIK_PASSWORD"
	GoogleCredentialsFile   = "GOOGLE_APPLICATION_CREDENTIALS"
	GoogleCredentialsBase64 = "GOOGLE_APPLICATION_CREDENTIALS_BASE64"
	SetmoreAPIToken         = "SETMORE_API_TOKEN"
)

// Provider looks up a raw secret value by name.
type Provider interface {
	Lookup(name string) (string, bool)
}

// MapProvider serves secrets from a fixed map.
type MapProvider map[string]string

// Lookup implements Provider.
func (m MapProvider) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok && v != ""
}

// ViperProvider reads secrets from a viper instance (environment and .env file).
type ViperProvider struct {
	v *viper.Viper
}

// NewViperProvider binds the known secret names on v.
func NewViperProvider(v *viper.Viper) *ViperProvider {
	for _, name := range []string{EHRUsername, EHRPassword, GoogleCredentialsFile, GoogleCredentialsBase64, SetmoreAPIToken} {
		_ = v.BindEnv(name)
	}
	return &ViperProvider{v: v}
}

// Lookup implements Provider.
func (p *ViperProvider) Lookup(name string) (string, bool) {
	val := strings.TrimSpace(p.v.GetString(name))
	return val, val != ""
}

// MissingSecretError is returned when a required secret is absent.
type MissingSecretError struct {
	Name string
}

func (e MissingSecretError) Error() string {
	return fmt.Sprintf("secret %s is not set", e.Name)
}

// Credentials is a username/password pair. String never prints the password.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s:***", c.Username)
}

// Store is the credential store handed to components.
type Store struct {
	provider Provider
	readFile func(string) ([]byte, error)
}

// NewStore wraps a provider.
func NewStore(p Provider) *Store {
	return &Store{provider: p, readFile: os.ReadFile}
}

// Require returns a secret or MissingSecretError.
func (s *Store) Require(name string) (string, error) {
	v, ok := s.provider.Lookup(name)
	if !ok {
		return "", MissingSecretError{Name: name}
	}
	return v, nil
}

// Optional returns a secret or "".
func (s *Store) Optional(name string) string {
	v, _ := s.provider.Lookup(name)
	return v
}

// EHRCredentials returns the EHR login.
func (s *Store) EHRCredentials() (Credentials, error) {
	user, err := s.Require(EHRUsername)
	if err != nil {
		return Credentials{}, err
	}
	pass, err := s.Require(EHRPassword)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Username: user, Password: pass}, nil
}

// GoogleCredentialsJSON returns the service-account JSON, preferring the base64
// variant over the file path.
func (s *Store) GoogleCredentialsJSON() ([]byte, error) {
	if encoded, ok := s.provider.Lookup(GoogleCredentialsBase64); ok {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", GoogleCredentialsBase64, err)
		}
		return raw, nil
	}
	path, ok := s.provider.Lookup(GoogleCredentialsFile)
	if !ok {
		return nil, MissingSecretError{Name: GoogleCredentialsFile}
	}
	raw, err := s.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", GoogleCredentialsFile, err)
	}
	return raw, nil
}
