package studyroom

import (
	"crypto/tls"
	"fmt"
	"net"
)

// https://github.com/ssllabs/research/wiki/ssl-and-tls-deployment-best-practices
func tlsConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP384,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

// listen opens the listener for the configured address, wrapped in TLS when
// a certificate is configured.
func (app *App) listen() (net.Listener, error) {
	l, err := net.Listen("tcp", app.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if app.config.TLSCertFile == "" {
		return l, nil
	}
	cfg, err := tlsConfig(app.config.TLSCertFile, app.config.TLSKeyFile)
	if err != nil {
		l.Close()
		return nil, err
	}
	return tls.NewListener(l, cfg), nil
}
