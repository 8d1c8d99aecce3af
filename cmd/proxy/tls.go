package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/felipecampolina/urlproxy/internal/config"
)

// startServer starts an HTTP server if TLS is disabled, otherwise HTTPS.
// If TLS is enabled and no cert/key are provided, a self-signed pair for
// localhost is generated, since certificate material is out of scope
// (spec.md §1) beyond a usable local-development path.
func startServer(cfg *config.Config, rootHandler http.Handler) error {
	if !cfg.TLS.Enabled {
		log.Printf("Starting HTTP on %s", cfg.ListenAddr)
		return http.ListenAndServe(cfg.ListenAddr, rootHandler)
	}

	if err := ensureSelfSignedIfMissing(cfg.TLS.CertFile, cfg.TLS.KeyFile); err != nil {
		log.Printf("TLS enabled but could not create self-signed cert: %v (falling back to HTTP)", err)
		return http.ListenAndServe(cfg.ListenAddr, rootHandler)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	log.Printf("Starting HTTPS (self-signed) on %s cert=%s key=%s", cfg.ListenAddr, cfg.TLS.CertFile, cfg.TLS.KeyFile)
	return server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
}

func ensureSelfSignedIfMissing(certPath, keyPath string) error {
	if fileExists(certPath) && fileExists(keyPath) {
		return nil
	}
	return generateSelfSigned(certPath, keyPath)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// generateSelfSigned creates a 2048-bit RSA key and a self-signed X.509
// certificate for "localhost", valid for one year.
func generateSelfSigned(certPath, keyPath string) error {
	if dir := filepath.Dir(certPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if dir := filepath.Dir(keyPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return err
	}

	certTemplate := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{"auto-generated"},
		},
		NotBefore:             time.Now().Add(-1 * time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	certDERBytes, err := x509.CreateCertificate(rand.Reader, certTemplate, certTemplate, &privateKey.PublicKey, privateKey)
	if err != nil {
		return err
	}

	certOut, err := os.Create(certPath)
	if err != nil {
		return err
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDERBytes}); err != nil {
		return err
	}

	keyOut, err := os.OpenFile(keyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}); err != nil {
		return err
	}

	log.Printf("Generated self-signed certificate (%s, %s) for localhost", certPath, keyPath)
	return nil
}
