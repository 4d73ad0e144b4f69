package secrets

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestEHRCredentialsMissingPassword(t *testing.T) {
	s := NewStore(MapProvider{EHRUsername: "dr.ayse"})
	_, err := s.EHRCredentials()
	var missing MissingSecretError
	if !errors.As(err, &missing) || missing.Name != EHRPassword {
		t.Fatalf("expected missing password, got %v", err)
	}
}

func TestCredentialsStringRedactsPassword(t *testing.T) {
	c := Credentials{Username: "dr.ayse", Password: "hunter2"}
	if strings.Contains(c.String(), "hunter2") {
		t.Fatalf("password leaked: %s", c.String())
	}
}

func TestGoogleCredentialsPrefersBase64(t *testing.T) {
	payload := `{"type":"service_account"}`
	s := NewStore(MapProvider{
		GoogleCredentialsBase64: base64.StdEncoding.EncodeToString([]byte(payload)),
		GoogleCredentialsFile:   "/does/not/exist.json",
	})
	raw, err := s.GoogleCredentialsJSON()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw) != payload {
		t.Fatalf("unexpected payload %s", raw)
	}
}

func TestGoogleCredentialsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(`{"k":1}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewStore(MapProvider{GoogleCredentialsFile: path})
	raw, err := s.GoogleCredentialsJSON()
	if err != nil || string(raw) != `{"k":1}` {
		t.Fatalf("read file: %v %s", err, raw)
	}
}

func TestGoogleCredentialsBadBase64(t *testing.T) {
	s := NewStore(MapProvider{GoogleCredentialsBase64: "%%%"})
	if _, err := s.GoogleCredentialsJSON(); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestViperProviderReadsEnv(t *testing.T) {
	t.Setenv(EHRUsername, "resepsiyon")
	p := NewViperProvider(viper.New())
	v, ok := p.Lookup(EHRUsername)
	if !ok || v != "resepsiyon" {
		t.Fatalf("lookup: %q %v", v, ok)
	}
	if _, ok := p.Lookup(EHRPassword); ok {
		t.Fatalf("unset secret should not resolve")
	}
}
