package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food-auth-service/internal/config"
)

func TestDevCertGeneratorReusesValidPair(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"api.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "api.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	second, err := gen.GenerateCert([]string{"other.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])

	gen.now = func() time.Time { return time.Now().Add(2 * devCertValidity) }
	third, err := gen.GenerateCert([]string{"other.local"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], third.Certificate[0])
}

func TestManagerFallsBackToSelfSignedOutsideProduction(t *testing.T) {
	cfg := &config.Config{
		Environment: "development",
		Server:      config.ServerConfig{EnableTLS: true, Domain: "localhost", AutoCertDir: t.TempDir()},
	}
	m := NewTLSManager(cfg)
	assert.Nil(t, m.GetAutocertManager())

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert)

	again, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, again)
}

func TestManagerRefusesSelfSignedInProduction(t *testing.T) {
	cfg := &config.Config{
		Environment: "production",
		Server:      config.ServerConfig{EnableTLS: true, Domain: "api.example.com", AutoCertDir: t.TempDir()},
	}

	_, err := NewTLSManager(cfg).GetCertificate(&tls.ClientHelloInfo{ServerName: "api.example.com"})
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestManagerLoadsKeyFiles(t *testing.T) {
	dir := t.TempDir()
	generated, err := NewDevCertGenerator(dir).GenerateCert([]string{"files.local"})
	require.NoError(t, err)

	certPath, keyPath := NewDevCertGenerator(dir).paths()
	cfg := &config.Config{
		Environment: "production",
		Server:      config.ServerConfig{EnableTLS: true, CertFile: certPath, KeyFile: keyPath},
	}

	cert, err := NewTLSManager(cfg).GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Equal(t, generated.Certificate[0], cert.Certificate[0])
	assert.Equal(t, uint16(tls.VersionTLS12), NewTLSManager(cfg).GetTLSConfig().MinVersion)
}
