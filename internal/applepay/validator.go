// Package applepay holds the merchant validation relay. Apple Pay requires
// the merchant session request to be signed with server-held TLS
// credentials, so the browser hands the validation URL to this relay and
// gets the signed session back. The private key never leaves the server.
package applepay

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chargx/storefront-gateway/internal/obs"
)

var (
	// ErrNotConfigured means the merchant id, certificate, or key is missing.
	ErrNotConfigured = errors.New("applepay: merchant credentials are not configured")
	// ErrValidationRejected means Apple answered with a non-2xx or non-JSON response.
	ErrValidationRejected = errors.New("applepay: merchant validation rejected")
)

// TransportError is a connection-level failure talking to Apple.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("applepay: validation transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config is the merchant identity used to sign validation requests.
type Config struct {
	MerchantID    string
	DisplayName   string
	Domain        string
	CertPath      string
	KeyPath       string
	KeyPassphrase string
	Timeout       time.Duration

	// Insecure skips server certificate verification. Tests only.
	Insecure bool
}

func (c Config) complete() bool {
	return strings.TrimSpace(c.MerchantID) != "" &&
		strings.TrimSpace(c.CertPath) != "" &&
		strings.TrimSpace(c.KeyPath) != ""
}

// Validator performs the mutual-TLS merchant validation round trip.
type Validator struct {
	cfg    Config
	client *http.Client
	Log    zerolog.Logger
}

// NewValidator loads the merchant certificate and key and builds the
// mutual-TLS client. Returns ErrNotConfigured when credentials are absent.
func NewValidator(cfg Config, log zerolog.Logger) (*Validator, error) {
	if !cfg.complete() {
		return nil, ErrNotConfigured
	}
	cert, err := loadCertificate(cfg.CertPath, cfg.KeyPath, cfg.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("applepay: load merchant identity: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.Insecure {
		tlsCfg.InsecureSkipVerify = true //nolint:gosec
	}
	return &Validator{
		cfg: cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		Log: log,
	}, nil
}

// Validate posts the merchant identity to the wallet-supplied validation URL
// and returns the signed session object.
func (v *Validator) Validate(ctx context.Context, validationURL string) (json.RawMessage, error) {
	if v == nil || v.client == nil {
		obs.RelayValidationTotal.WithLabelValues("not_configured").Inc()
		return nil, ErrNotConfigured
	}
	if err := checkValidationURL(validationURL); err != nil {
		obs.RelayValidationTotal.WithLabelValues("bad_url").Inc()
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{
		"merchantIdentifier": v.cfg.MerchantID,
		"domainName":         v.cfg.Domain,
		"displayName":        v.cfg.DisplayName,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, validationURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		obs.RelayValidationTotal.WithLabelValues("transport_error").Inc()
		v.Log.Error().Err(err).Msg("apple pay merchant validation transport failure")
		return nil, &TransportError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		obs.RelayValidationTotal.WithLabelValues("transport_error").Inc()
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !json.Valid(raw) {
		obs.RelayValidationTotal.WithLabelValues("rejected").Inc()
		v.Log.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("apple pay merchant validation rejected")
		return nil, ErrValidationRejected
	}
	obs.RelayValidationTotal.WithLabelValues("ok").Inc()
	return raw, nil
}

func checkValidationURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("applepay: invalid validation url: %w", err)
	}
	if parsed.Scheme != "https" || parsed.Host == "" {
		return errors.New("applepay: validation url must be https")
	}
	return nil
}

// loadCertificate reads the PEM certificate and private key, decrypting the
// key with the passphrase when one is set.
func loadCertificate(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	if passphrase != "" {
		keyPEM, err = decryptKeyPEM(keyPEM, passphrase)
		if err != nil {
			return tls.Certificate{}, err
		}
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

func decryptKeyPEM(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("applepay: key file contains no PEM block")
	}
	if !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		return keyPEM, nil
	}
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("applepay: decrypt merchant key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
