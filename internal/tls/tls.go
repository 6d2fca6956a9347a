// Package tls builds the HTTP server TLS configuration from explicit files
// or a directory with optional self-signed generation.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/logdrain/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"

	defaultValidDays = 365
)

var versions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// version maps "1.2", "TLS1.2" and friends to the protocol constant. The
// fallback is returned for empty or unknown values.
func version(s string, fallback uint16) uint16 {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls")
	if v, ok := versions[s]; ok {
		return v
	}
	return fallback
}

// SetupTLS returns nil when TLS is disabled. Explicit cert and key files take
// precedence over the directory layout.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	t := server.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}

	var certPath, keyPath string
	switch {
	case t.CertFile != "" && t.KeyFile != "":
		certPath, keyPath = t.CertFile, t.KeyFile
	case t.Dir != "":
		certPath, keyPath = filepath.Join(t.Dir, tlsCrt), filepath.Join(t.Dir, tlsKey)
		if !certificatesExist(certPath, keyPath) {
			if !t.AutoGenerate {
				return nil, fmt.Errorf("no certificate found in %s", t.Dir)
			}
			if err := generateCertificate(t.AutoGen, t.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
	}

	minVer := version(server.TLSMinVersion, tls.VersionTLS13)
	maxVer := max(version(server.TLSMaxVersion, tls.VersionTLS13), minVer)
	kp := &keyPair{certPath: certPath, keyPath: keyPath}
	// #nosec G402 TLS 1.2 is opt-in through configuration
	return &tls.Config{
		GetCertificate: kp.get,
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// keyPair serves the certificate from disk and reloads it when either file
// changes, so rotated certificates apply without a restart.
type keyPair struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func (k *keyPair) get(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	mod, err := latestModTime(k.certPath, k.keyPath)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cert != nil && !mod.After(k.modTime) {
		return k.cert, nil
	}
	cert, err := tls.LoadX509KeyPair(filepath.Clean(k.certPath), filepath.Clean(k.keyPath))
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	k.cert, k.modTime = &cert, mod
	return k.cert, nil
}

func latestModTime(paths ...string) (time.Time, error) {
	var latest time.Time
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return time.Time{}, err
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest, nil
}

func certificatesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generateCertificate(gen *config.AutoGenTLS, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	cfg := CertConfig{
		CommonName:   "localhost",
		Organization: "logdrain",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(0, 0, defaultValidDays),
		CertPath:     filepath.Join(dir, tlsCrt),
		KeyPath:      filepath.Join(dir, tlsKey),
		CACertPath:   filepath.Join(dir, tlsCaCrt),
	}
	if gen != nil {
		if gen.CommonName != "" {
			cfg.CommonName = gen.CommonName
		}
		if gen.Organization != "" {
			cfg.Organization = gen.Organization
		}
		if len(gen.DNSNames) > 0 {
			cfg.DNSNames = gen.DNSNames
		}
		if len(gen.IPAddresses) > 0 {
			cfg.IPAddresses = gen.IPAddresses
		}
		if gen.ValidDays > 0 {
			cfg.NotAfter = time.Now().AddDate(0, 0, gen.ValidDays)
		}
	}
	return GenerateSelfSignedCert(cfg)
}
