package testutil

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"testing"
)

func TestSelfSigned(t *testing.T) {
	b, err := SelfSigned("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("SelfSigned failed: %v", err)
	}

	leaf, err := x509.ParseCertificate(b.Cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v, want [localhost]", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 || leaf.IPAddresses[0].String() != "127.0.0.1" {
		t.Errorf("IPAddresses = %v, want [127.0.0.1]", leaf.IPAddresses)
	}

	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "localhost", Roots: b.Roots}); err != nil {
		t.Errorf("certificate should verify against its own pool: %v", err)
	}
}

func TestCertBundle_WriteFiles(t *testing.T) {
	b, err := SelfSigned("localhost")
	if err != nil {
		t.Fatalf("SelfSigned failed: %v", err)
	}

	certFile, keyFile, err := b.WriteFiles(t.TempDir())
	if err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}
	if _, err := tls.LoadX509KeyPair(certFile, keyFile); err != nil {
		t.Errorf("written files should load as a key pair: %v", err)
	}
	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}
}
