// Package tls provides SNI-based certificate selection for the listener.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vortexgw/vortex/internal/config"
	"github.com/vortexgw/vortex/internal/util"
)

// ErrNoCertificate indicates that no certificate matches the requested SNI
// and no default certificate is configured. The handshake for that
// connection fails; other connections are unaffected.
var ErrNoCertificate = errors.New("no certificate found for SNI")

// Resolver selects certificates by server name. It is built once per
// configuration snapshot and never mutated afterwards, so lookups need no
// locking. Certificate material is parsed at build time; a parse failure
// rejects the snapshot.
type Resolver struct {
	exact      map[string]*tls.Certificate
	wildcards  []wildcardEntry
	defaultCrt *tls.Certificate
}

// wildcardEntry maps a "*.domain" pattern to its certificate. Entries are
// kept sorted by suffix length, longest first, so the first match is the
// most specific one.
type wildcardEntry struct {
	suffix string // literal part after "*."
	cert   *tls.Certificate
}

// NewResolver parses the snapshot's certificates and builds a resolver.
func NewResolver(certs []config.Certificate) (*Resolver, error) {
	r := &Resolver{
		exact: make(map[string]*tls.Certificate),
	}

	for i := range certs {
		spec := &certs[i]
		parsed, err := loadCertificate(spec)
		if err != nil {
			return nil, util.NewConfigErrorWithCause(
				fmt.Sprintf("certificates[%d]", i), "failed to load certificate", err)
		}

		if spec.Default {
			r.defaultCrt = parsed
		}

		for _, host := range spec.Hosts {
			host = strings.ToLower(host)
			if suffix, ok := strings.CutPrefix(host, "*."); ok {
				r.wildcards = append(r.wildcards, wildcardEntry{suffix: suffix, cert: parsed})
				continue
			}
			r.exact[host] = parsed
		}
	}

	sort.SliceStable(r.wildcards, func(i, j int) bool {
		return len(r.wildcards[i].suffix) > len(r.wildcards[j].suffix)
	})

	return r, nil
}

// Resolve returns the certificate for serverName. Exact matches win over
// wildcards; among wildcard matches the longest literal suffix wins; the
// default certificate serves everything else.
func (r *Resolver) Resolve(serverName string) (*tls.Certificate, error) {
	serverName = strings.ToLower(serverName)

	if cert, ok := r.exact[serverName]; ok {
		return cert, nil
	}

	for _, entry := range r.wildcards {
		if matchWildcardSuffix(entry.suffix, serverName) {
			return entry.cert, nil
		}
	}

	if r.defaultCrt != nil {
		return r.defaultCrt, nil
	}

	return nil, ErrNoCertificate
}

// matchWildcardSuffix reports whether serverName matches "*.suffix". The
// wildcard covers exactly one label: "*.example.com" matches
// "api.example.com" but neither "example.com" nor "a.b.example.com".
func matchWildcardSuffix(suffix, serverName string) bool {
	if !strings.HasSuffix(serverName, "."+suffix) {
		return false
	}

	label := serverName[:len(serverName)-len(suffix)-1]
	return label != "" && !strings.Contains(label, ".")
}

func loadCertificate(spec *config.Certificate) (*tls.Certificate, error) {
	var cert tls.Certificate
	var err error

	if spec.CertPEM != "" {
		cert, err = tls.X509KeyPair([]byte(spec.CertPEM), []byte(spec.KeyPEM))
	} else {
		var certData, keyData []byte
		certData, err = os.ReadFile(spec.CertFile)
		if err != nil {
			return nil, err
		}
		keyData, err = os.ReadFile(spec.KeyFile)
		if err != nil {
			return nil, err
		}
		cert, err = tls.X509KeyPair(certData, keyData)
	}
	if err != nil {
		return nil, err
	}

	return &cert, nil
}
