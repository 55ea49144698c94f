package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/v1/orders", "/v1/orders"},
		{"/v1/markets?limit=50&cursor=abc", "/v1/markets"},
		{"/v1/markets#section", "/v1/markets"},
		{"v1/orders", "/v1/orders"},
		{"/v1/orders?", "/v1/orders"},
	}
	for _, tt := range tests {
		if got := CanonicalPath(tt.in); got != tt.want {
			t.Errorf("CanonicalPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalMessage(t *testing.T) {
	got := CanonicalMessage("1756400000000", "get", "/v1/markets?limit=50")
	want := "1756400000000GET/v1/markets"
	if string(got) != want {
		t.Errorf("CanonicalMessage = %q, want %q", got, want)
	}
}

func TestRSAPSS_SignAndVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	s, err := NewRSAPSS("key-1", pemBytes)
	if err != nil {
		t.Fatalf("NewRSAPSS: %v", err)
	}
	if s.KeyID() != "key-1" {
		t.Errorf("KeyID = %q", s.KeyID())
	}

	msg := CanonicalMessage("1756400000000", "POST", "/v1/orders")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature is not base64: %v", err)
	}
	digest := sha256.Sum256(msg)
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], raw, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestRSAPSS_PKCS1Key(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if _, err := NewRSAPSS("key-1", pemBytes); err != nil {
		t.Errorf("PKCS#1 key should parse, got %v", err)
	}
}

func TestRSAPSS_BadKeyMaterial(t *testing.T) {
	if _, err := NewRSAPSS("key-1", []byte("not a pem")); err == nil {
		t.Error("expected an error for garbage key material")
	}
}

func TestEC_SignAndVerify(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := hex.EncodeToString(ethcrypto.FromECDSA(key))

	s, err := NewEC("0xabc", "0x"+hexKey)
	if err != nil {
		t.Fatalf("NewEC: %v", err)
	}

	msg := CanonicalMessage("1756400000", "POST", "/v1/orders")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	raw, err := hex.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	if len(raw) != 65 {
		t.Fatalf("signature length = %d, want 65", len(raw))
	}

	digest := sha256.Sum256(msg)
	pub := ethcrypto.FromECDSAPub(&key.PublicKey)
	if !ethcrypto.VerifySignature(pub, digest[:], raw[:64]) {
		t.Error("signature does not verify")
	}
}

func TestSignaturesDifferPerTimestamp(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := NewEC("k", hex.EncodeToString(ethcrypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("NewEC: %v", err)
	}

	a, _ := s.Sign(CanonicalMessage("1756400000", "GET", "/v1/markets"))
	b, _ := s.Sign(CanonicalMessage("1756400001", "GET", "/v1/markets"))
	if a == b {
		t.Error("different timestamps must produce different signatures")
	}
}
