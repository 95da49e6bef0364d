// Package mitm implements root CA management and on-demand leaf certificate
// minting for TLS interception. It owns the key material; CertCache (a
// sibling package) owns the LRU of minted leaves.
package mitm

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SKI/AKI linkage only, not a security boundary
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"privaxy-go/internal/logger"
)

// oidExtensionBasicConstraints is RFC 5280 4.2.1.9's basicConstraints OID.
// x509.CreateCertificate always marshals BasicConstraintsValid as critical
// (see marshalBasicConstraints in the standard library), but leaf certs
// need CA:FALSE present and non-critical, so leaves build the extension by
// hand via ExtraExtensions instead of BasicConstraintsValid.
var oidExtensionBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

// basicConstraints mirrors RFC 5280's ASN.1 shape; encoding it with
// IsCA=false and MaxPathLen=-1 (the "absent" sentinel for this optional
// field) yields the same empty SEQUENCE a CA:FALSE certificate carries.
type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

func nonCriticalLeafBasicConstraints() (pkix.Extension, error) {
	value, err := asn1.Marshal(basicConstraints{IsCA: false, MaxPathLen: -1})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("marshal basicConstraints: %w", err)
	}
	return pkix.Extension{Id: oidExtensionBasicConstraints, Critical: false, Value: value}, nil
}

const (
	rootKeyBits = 2048
	leafKeyBits = 2048

	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour

	maxCNLength    = 64
	cnOverflowStub = "privaxy_cn_too_long.local"
)

// Issuer holds the root CA's certificate and private key, plus the single
// RSA key shared by every minted leaf certificate (cost amortization: RSA
// key generation, not signing, is the expensive part).
type Issuer struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	leafKey *rsa.PrivateKey
}

// CertDER returns the root certificate's raw DER bytes, e.g. for serving
// a CA-install page.
func (iss *Issuer) CertDER() []byte { return iss.cert.Raw }

// LoadOrGenerate loads a root CA from PEM files, generating and persisting
// a new one if the files are absent.
func LoadOrGenerate(log *logger.Logger, certFile, keyFile string) (*Issuer, error) {
	iss, err := Load(certFile, keyFile)
	if err == nil {
		log.Infow("loaded root CA", "cert_file", certFile, "key_file", keyFile)
		return iss, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load root CA: %w", err)
	}

	log.Infow("no root CA found, generating a new one", "cert_file", certFile, "key_file", keyFile)
	if genErr := Generate(certFile, keyFile); genErr != nil {
		return nil, fmt.Errorf("generate root CA: %w", genErr)
	}
	iss, err = Load(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load generated root CA: %w", err)
	}
	log.Infow("generated new root CA; install it to intercept TLS traffic", "cert_file", certFile)
	return iss, nil
}

// Load reads a root CA certificate and key from PEM files and prepares the
// shared leaf key used to mint leaf certificates.
func Load(certFile, keyFile string) (*Issuer, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", certFile)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("no PEM block found in %s", keyFile)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		generic, err2 := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("parse CA key: %w (also tried PKCS8: %v)", err, err2)
		}
		rsaKey, ok := generic.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("CA key is not RSA")
		}
		key = rsaKey
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate shared leaf key: %w", err)
	}

	return &Issuer{cert: cert, key: key, leafKey: leafKey}, nil
}

// Generate creates a new self-signed root CA and writes it to the given PEM
// files. Subject/issuer: O=Privaxy, CN=Privaxy, C=US, ST=CA. 2048-bit RSA,
// 10-year validity, CA:TRUE critical, keyCertSign|cRLSign critical.
func Generate(certFile, keyFile string) error {
	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := randomSerial159()
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "Privaxy",
			Organization: []string{"Privaxy"},
			Country:      []string{"US"},
			Province:     []string{"CA"},
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          subjectKeyID(&key.PublicKey),
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA cert: %w", err)
	}

	certOut, err := os.OpenFile(certFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create cert file: %w", err)
	}
	defer certOut.Close() //nolint:errcheck // best-effort close
	if encErr := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); encErr != nil {
		return fmt.Errorf("write cert PEM: %w", encErr)
	}

	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	defer keyOut.Close() //nolint:errcheck // best-effort close
	if encErr := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); encErr != nil {
		return fmt.Errorf("write key PEM: %w", encErr)
	}

	return nil
}

// randomSerial159 returns a random non-negative integer with at most 159
// significant bits, matching the root's serial width (the 160th bit is
// reserved so the big-endian DER encoding never looks like a negative
// INTEGER).
func randomSerial159() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 159))
}

func subjectKeyID(pub *rsa.PublicKey) []byte {
	sum := sha1.Sum(x509.MarshalPKCS1PublicKey(pub))
	return sum[:]
}

// NewLeaf mints a leaf certificate for host, signed by the root CA and
// using the issuer's single shared leaf key. Subject CN is host truncated
// to 64 characters, or a fixed sentinel if it doesn't fit. SAN is an IP
// entry if host parses as an IP literal, else a DNS entry.
func (iss *Issuer) NewLeaf(host string) (*tls.Certificate, error) {
	cn := host
	if len(cn) > maxCNLength {
		cn = cnOverflowStub
	}

	serial, err := randomSerial159()
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	basicConstraintsExt, err := nonCriticalLeafBasicConstraints()
	if err != nil {
		return nil, fmt.Errorf("build leaf cert extensions for %s: %w", host, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        pkix.Name{CommonName: cn},
		NotBefore:      now.Add(-time.Minute),
		NotAfter:       now.Add(leafValidity),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageContentCommitment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		SubjectKeyId:   subjectKeyID(&iss.leafKey.PublicKey),
		AuthorityKeyId: iss.cert.SubjectKeyId,
		// CA:FALSE, present but non-critical: x509.CreateCertificate would
		// mark BasicConstraintsValid critical unconditionally, so this
		// extension is built by hand instead (see nonCriticalLeafBasicConstraints).
		ExtraExtensions: []pkix.Extension{basicConstraintsExt},
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, iss.cert, &iss.leafKey.PublicKey, iss.key)
	if err != nil {
		return nil, fmt.Errorf("sign leaf cert for %s: %w", host, err)
	}

	leaf := &tls.Certificate{
		Certificate: [][]byte{derBytes, iss.cert.Raw},
		PrivateKey:  iss.leafKey,
	}
	leaf.Leaf, err = x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("parse minted leaf cert for %s: %w", host, err)
	}
	return leaf, nil
}
