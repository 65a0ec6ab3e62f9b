// Package transport prepares the secure socket layer the update agent dials
// through. Nothing here performs I/O; it assembles TLS material once, before
// the agent launches.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"sync"

	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/logging"
	"github.com/edgefleet/otawatch/pkg/ota"
)

// Bootstrap performs the one-shot transport initialization required before
// the agent may connect. Init is attempted exactly once per process; repeated
// calls report the original outcome.
type Bootstrap struct {
	log   logging.Logger
	creds ota.Credentials
	kind  ota.Connection

	once sync.Once
	conf *tls.Config
	err  error
}

// NewBootstrap builds a Bootstrap for the configured initial connection kind.
func NewBootstrap(log logging.Logger, creds ota.Credentials, kind ota.Connection) *Bootstrap {
	return &Bootstrap{log: log, creds: creds, kind: kind}
}

// Init assembles the TLS material. Plain HTTP connections need no material
// and always succeed.
func (b *Bootstrap) Init() error {
	b.once.Do(func() {
		b.conf, b.err = b.build()
		if b.err == nil {
			b.log.WithField("connection", b.kind.String()).Debug("transport ready")
		}
	})
	return b.err
}

func (b *Bootstrap) build() (*tls.Config, error) {
	if b.kind != ota.ConnectionHTTPS {
		return nil, nil
	}
	if len(b.creds.RootCA) == 0 {
		return nil, errors.New("TLS enabled but no root CA provided")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b.creds.RootCA) {
		return nil, errors.New("root CA bundle contains no usable certificates")
	}
	conf := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	if b.creds.UsesClientPair() {
		pair, err := tls.X509KeyPair(b.creds.ClientCert, b.creds.ClientKey)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load client keypair")
		}
		conf.Certificates = []tls.Certificate{pair}
	}
	return conf, nil
}

// TLSConfig reports the assembled configuration. It is nil for plain
// connections and an error before a successful Init.
func (b *Bootstrap) TLSConfig() (*tls.Config, error) {
	if b.conf == nil && b.err == nil && b.kind == ota.ConnectionHTTPS {
		return nil, errors.New("transport not initialized")
	}
	return b.conf, b.err
}
