// Package tlsconfig builds tls.Config values for the admin endpoint, the
// health probes and the hub connection from file paths.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// ErrNoCerts is returned when a CA file holds no PEM certificates.
var ErrNoCerts = errors.New("tls: no certificates found in CA file")

// reloadTTL bounds how long a loaded key pair is reused before the files
// are read again.
const reloadTTL = 10 * time.Second

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
}

// Server returns a server tls.Config, or nil when TLS is disabled. The key
// pair is re-read from disk at most every reloadTTL so certificates can be
// rotated in place. With a CA file, client certificates are required.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    // fail fast on unreadable files
    if _, err := kp.get(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a client tls.Config, or nil when TLS is disabled. The
// client certificate is optional.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
        if _, err := kp.get(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
    }
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("%w: %s", ErrNoCerts, path) }
    return pool, nil
}

type keyPair struct {
    cert, key string

    mu       sync.RWMutex
    cached   *tls.Certificate
    lastLoad time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.RLock()
    if k.cached != nil && time.Since(k.lastLoad) < reloadTTL {
        c := k.cached
        k.mu.RUnlock()
        return c, nil
    }
    k.mu.RUnlock()
    cert, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil {
        // keep serving the previous pair while a rotation is half written
        k.mu.RLock()
        c := k.cached
        k.mu.RUnlock()
        if c != nil { return c, nil }
        return nil, err
    }
    k.mu.Lock()
    k.cached = &cert
    k.lastLoad = time.Now()
    k.mu.Unlock()
    return &cert, nil
}
