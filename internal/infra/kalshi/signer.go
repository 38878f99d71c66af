package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Handshake and request header names.
const (
	HeaderKey       = "KALSHI-ACCESS-KEY"
	HeaderTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	HeaderSignature = "KALSHI-ACCESS-SIGNATURE"
)

// Signer produces Kalshi API signatures: RSA-PSS SHA-256 over timestamp + method + path.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner creates a signer for an API key id.
func NewSigner(keyID string, key *rsa.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key, now: time.Now}
}

// LoadSigner reads a PEM private key from path.
func LoadSigner(keyID, path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, key), nil
}

// ParsePrivateKey accepts PKCS#1 and PKCS#8 PEM blocks.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("private key: no PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key: not RSA")
	}
	return key, nil
}

// KeyID returns the API key id.
func (s *Signer) KeyID() string { return s.keyID }

// Headers signs method and path (no query string) at the current time.
func (s *Signer) Headers(method, path string) (http.Header, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("signer has no key")
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	sig, err := s.sign(ts + method + path)
	if err != nil {
		return nil, err
	}
	h := make(http.Header, 3)
	h.Set(HeaderKey, s.keyID)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, sig)
	return h, nil
}

func (s *Signer) sign(payload string) (string, error) {
	digest := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Wipe zeroes the private exponent and primes.
func (s *Signer) Wipe() {
	if s == nil || s.key == nil {
		return
	}
	zero(s.key.D)
	for _, p := range s.key.Primes {
		zero(p)
	}
	s.key = nil
}

func zero(n *big.Int) {
	if n != nil {
		n.SetInt64(0)
	}
}
