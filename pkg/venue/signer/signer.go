// Package signer implements per-request asymmetric signing for trading
// venues that authenticate with a signature over timestamp + method + path.
//
// Two schemes are supported, because venues of this class disagree on which
// they want: RSA-PSS over the raw canonical string (SHA-256, salt length
// equal to the digest length) and secp256k1 ECDSA over the SHA-256 digest.
// The venue config decides which scheme and which timestamp unit apply;
// neither is assumed.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Scheme selects the signature algorithm for a venue.
type Scheme string

const (
	SchemeRSAPSS Scheme = "rsa-pss"
	SchemeEC     Scheme = "ec"
)

// Signer produces a signature over a canonical request string.
type Signer interface {
	// Sign returns an encoded signature over message. Each call signs
	// fresh input; implementations must not cache signatures.
	Sign(message []byte) (string, error)

	// KeyID returns the client/key identifier the venue knows us by.
	KeyID() string
}

// CanonicalPath strips the query string and fragment from a request path.
// The venue verifies the signature against the bare path even when the
// actual call carries query parameters; signing the full URL is the single
// most common integration defect, so canonicalization is not optional.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if i := strings.IndexByte(path, '#'); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// CanonicalMessage builds the signed string: timestamp + method + path.
func CanonicalMessage(timestamp, method, path string) []byte {
	return []byte(timestamp + strings.ToUpper(method) + CanonicalPath(path))
}

// RSAPSS signs with RSA-PSS/SHA-256, salt length equal to the hash length.
type RSAPSS struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewRSAPSS parses a PEM private key (PKCS#8 or PKCS#1) and returns a
// signer. A malformed key is fatal here, by contract: signing failures are
// never retried, so they must surface at construction.
func NewRSAPSS(keyID string, pemBytes []byte) (*RSAPSS, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("signer: no PEM block in key material")
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signer: PKCS#8 key is %T, want RSA", parsed)
		}
		key = rsaKey
	} else if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else {
		return nil, fmt.Errorf("signer: key is neither PKCS#8 nor PKCS#1 RSA")
	}

	return &RSAPSS{keyID: keyID, key: key}, nil
}

func (s *RSAPSS) KeyID() string { return s.keyID }

// Sign returns a base64 RSA-PSS signature over message.
func (s *RSAPSS) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("signer: rsa-pss sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// EC signs with secp256k1 ECDSA over the SHA-256 digest of the message.
type EC struct {
	keyID string
	key   *ecdsa.PrivateKey
}

// NewEC parses a hex-encoded secp256k1 private key.
func NewEC(keyID, hexKey string) (*EC, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: parse secp256k1 key: %w", err)
	}
	return &EC{keyID: keyID, key: key}, nil
}

func (s *EC) KeyID() string { return s.keyID }

// Sign returns a hex-encoded 65-byte recoverable signature over the
// SHA-256 digest of message.
func (s *EC) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := ethcrypto.Sign(digest[:], s.key)
	if err != nil {
		return "", fmt.Errorf("signer: secp256k1 sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}
