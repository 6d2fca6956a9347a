package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/logdrain/internal/config"
)

func TestSetupTLSDisabled(t *testing.T) {
	c, err := SetupTLS(config.ServerConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSetupTLSAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	srv := config.ServerConfig{
		TLS:           &config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true},
		TLSMinVersion: "1.2",
	}
	c, err := SetupTLS(srv)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MaxVersion)
	assert.True(t, certificatesExist(filepath.Join(dir, tlsCrt), filepath.Join(dir, tlsKey)))

	cert, err := c.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)

	// existing files are reused
	c2, err := SetupTLS(srv)
	require.NoError(t, err)
	assert.NotNil(t, c2)
}

func TestSetupTLSExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, GenerateSelfSignedCert(CertConfig{
		CommonName: "logdrain.test", Organization: "test", DNSNames: []string{"logdrain.test"},
		NotAfter: time.Now().AddDate(0, 0, 30), CertPath: certPath, KeyPath: keyPath,
	}))
	c, err := SetupTLS(config.ServerConfig{TLS: &config.TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath}})
	require.NoError(t, err)
	_, err = c.GetCertificate(&tls.ClientHelloInfo{})
	assert.NoError(t, err)
}

func TestSetupTLSMisconfigured(t *testing.T) {
	_, err := SetupTLS(config.ServerConfig{TLS: &config.TLSConfig{Enabled: true}})
	assert.Error(t, err)
	_, err = SetupTLS(config.ServerConfig{TLS: &config.TLSConfig{Enabled: true, Dir: t.TempDir()}})
	assert.Error(t, err, "directory without certificates and no auto generation")
}

func TestVersionParsing(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS12), version("TLS1.2", tls.VersionTLS13))
	assert.Equal(t, uint16(tls.VersionTLS12), version(" 1.2 ", tls.VersionTLS13))
	assert.Equal(t, uint16(tls.VersionTLS13), version("tls1.3", tls.VersionTLS12))
	assert.Equal(t, uint16(tls.VersionTLS13), version("", tls.VersionTLS13))
	assert.Equal(t, uint16(tls.VersionTLS13), version("1.0", tls.VersionTLS13))

	// max never drops below min
	c, err := SetupTLS(config.ServerConfig{
		TLS:           &config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true},
		TLSMinVersion: "1.3",
		TLSMaxVersion: "1.2",
	})
	require.NoError(t, err)
	assert.Equal(t, c.MinVersion, c.MaxVersion)
}

func TestKeyPairReloadsRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	gen := func(cn string) {
		require.NoError(t, GenerateSelfSignedCert(CertConfig{
			CommonName: cn, Organization: "test", NotAfter: time.Now().AddDate(0, 0, 1),
			CertPath: certPath, KeyPath: keyPath,
		}))
	}
	gen("first")
	kp := &keyPair{certPath: certPath, keyPath: keyPath}
	first, err := kp.get(nil)
	require.NoError(t, err)
	again, err := kp.get(nil)
	require.NoError(t, err)
	assert.Same(t, first, again, "unchanged files are served from cache")

	gen("second")
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(certPath, later, later))
	rotated, err := kp.get(nil)
	require.NoError(t, err)
	assert.NotSame(t, first, rotated)
}
