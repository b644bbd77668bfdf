package nlu

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Credentials is a Google service-account credential record. It is supplied
// as configuration, either inline in the YAML file or as a downloaded key file.
type Credentials struct {
	Type                    string `yaml:"type"                        json:"type"`
	ProjectID               string `yaml:"project_id"                  json:"project_id"`
	PrivateKeyID            string `yaml:"private_key_id"              json:"private_key_id"`
	PrivateKey              string `yaml:"private_key"                 json:"private_key"`
	ClientEmail             string `yaml:"client_email"                json:"client_email"`
	ClientID                string `yaml:"client_id"                   json:"client_id"`
	AuthURI                 string `yaml:"auth_uri"                    json:"auth_uri"`
	TokenURI                string `yaml:"token_uri"                   json:"token_uri"`
	AuthProviderX509CertURL string `yaml:"auth_provider_x509_cert_url" json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `yaml:"client_x509_cert_url"        json:"client_x509_cert_url"`
	UniverseDomain          string `yaml:"universe_domain"             json:"universe_domain,omitempty"`
}

// IsZero reports whether no field is set.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Validate checks the fields required to mint an access token.
func (c Credentials) Validate() error {
	var errs []error
	if c.Type != "service_account" {
		errs = append(errs, fmt.Errorf("type must be %q, got %q", "service_account", c.Type))
	}
	if c.ClientEmail == "" {
		errs = append(errs, errors.New("client_email is required"))
	}
	if c.PrivateKey == "" {
		errs = append(errs, errors.New("private_key is required"))
	}
	if c.TokenURI == "" {
		errs = append(errs, errors.New("token_uri is required"))
	}
	return errors.Join(errs...)
}

// JSON renders the record in the service-account key file format.
func (c Credentials) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// ReadCredentials decodes a service-account key file.
func ReadCredentials(r io.Reader) (Credentials, error) {
	var c Credentials
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Credentials{}, fmt.Errorf("nlu: decode credentials: %w", err)
	}
	return c, nil
}

// LoadCredentialsFile reads a service-account key file from disk.
func LoadCredentialsFile(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("nlu: open credentials: %w", err)
	}
	defer f.Close()
	return ReadCredentials(f)
}
