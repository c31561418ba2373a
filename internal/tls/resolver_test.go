package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/util"
)

// genCertPEM creates a self-signed certificate for the given DNS names.
func genCertPEM(t *testing.T, dnsNames ...string) (certPEM, keyPEM string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: dnsNames[0]},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     dnsNames,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM
}

func leafNames(t *testing.T, cert *tls.Certificate) []string {
	t.Helper()
	require.NotNil(t, cert)
	if cert.Leaf == nil {
		// Go before 1.23 does not populate Leaf in tls.X509KeyPair.
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		require.NoError(t, err)
		cert.Leaf = leaf
	}
	require.NotNil(t, cert.Leaf)
	return cert.Leaf.DNSNames
}

func TestResolverExactBeatsWildcard(t *testing.T) {
	exactCert, exactKey := genCertPEM(t, "api.example.com")
	wildCert, wildKey := genCertPEM(t, "*.example.com")

	r, err := NewResolver([]config.Certificate{
		{Hosts: []string{"*.example.com"}, CertPEM: wildCert, KeyPEM: wildKey},
		{Hosts: []string{"api.example.com"}, CertPEM: exactCert, KeyPEM: exactKey},
	})
	require.NoError(t, err)

	cert, err := r.Resolve("api.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"api.example.com"}, leafNames(t, cert))

	cert, err = r.Resolve("other.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"*.example.com"}, leafNames(t, cert))
}

func TestResolverWildcardSingleLabel(t *testing.T) {
	wildCert, wildKey := genCertPEM(t, "*.example.com")

	r, err := NewResolver([]config.Certificate{
		{Hosts: []string{"*.example.com"}, CertPEM: wildCert, KeyPEM: wildKey},
	})
	require.NoError(t, err)

	_, err = r.Resolve("svc.example.com")
	require.NoError(t, err)

	// The wildcard does not cover the bare domain or nested labels.
	_, err = r.Resolve("example.com")
	assert.ErrorIs(t, err, ErrNoCertificate)

	_, err = r.Resolve("a.b.example.com")
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestResolverLongestWildcardWins(t *testing.T) {
	innerCert, innerKey := genCertPEM(t, "*.svc.example.com")
	outerCert, outerKey := genCertPEM(t, "*.example.com")

	r, err := NewResolver([]config.Certificate{
		{Hosts: []string{"*.example.com"}, CertPEM: outerCert, KeyPEM: outerKey},
		{Hosts: []string{"*.svc.example.com"}, CertPEM: innerCert, KeyPEM: innerKey},
	})
	require.NoError(t, err)

	cert, err := r.Resolve("db.svc.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"*.svc.example.com"}, leafNames(t, cert))
}

func TestResolverDefaultFallback(t *testing.T) {
	defCert, defKey := genCertPEM(t, "fallback.example.com")

	r, err := NewResolver([]config.Certificate{
		{CertPEM: defCert, KeyPEM: defKey, Default: true},
	})
	require.NoError(t, err)

	cert, err := r.Resolve("anything.at.all")
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback.example.com"}, leafNames(t, cert))

	// Absent SNI resolves to the default as well.
	cert, err = r.Resolve("")
	require.NoError(t, err)
	assert.NotNil(t, cert)
}

func TestResolverCaseInsensitive(t *testing.T) {
	certPEM, keyPEM := genCertPEM(t, "api.example.com")

	r, err := NewResolver([]config.Certificate{
		{Hosts: []string{"API.Example.COM"}, CertPEM: certPEM, KeyPEM: keyPEM},
	})
	require.NoError(t, err)

	_, err = r.Resolve("api.EXAMPLE.com")
	require.NoError(t, err)
}

func TestResolverBadPEM(t *testing.T) {
	_, err := NewResolver([]config.Certificate{
		{Hosts: []string{"api.example.com"}, CertPEM: "not a cert", KeyPEM: "not a key"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrConfigInvalid)
}

func TestResolverFromFiles(t *testing.T) {
	certPEM, keyPEM := genCertPEM(t, "file.example.com")
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certFile, []byte(certPEM), 0o600))
	require.NoError(t, os.WriteFile(keyFile, []byte(keyPEM), 0o600))

	r, err := NewResolver([]config.Certificate{
		{Hosts: []string{"file.example.com"}, CertFile: certFile, KeyFile: keyFile},
	})
	require.NoError(t, err)

	_, err = r.Resolve("file.example.com")
	require.NoError(t, err)

	_, err = NewResolver([]config.Certificate{
		{Hosts: []string{"x"}, CertFile: filepath.Join(dir, "missing.crt"), KeyFile: keyFile},
	})
	require.Error(t, err)
}
