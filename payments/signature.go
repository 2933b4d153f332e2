package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Signer computes and checks webhook signatures: hex(HMAC(secret, body)).
type Signer struct {
	secret  []byte
	newHash func() hash.Hash
}

func NewSigner(secret, algorithm string) (*Signer, error) {
	var h func() hash.Hash
	switch strings.ToLower(algorithm) {
	case "", "sha512":
		h = sha512.New
	case "sha256":
		h = sha256.New
	default:
		return nil, fmt.Errorf("unsupported webhook hash %q", algorithm)
	}
	return &Signer{secret: []byte(secret), newHash: h}, nil
}

func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(s.newHash, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Valid compares in constant time. An empty signature never matches.
func (s *Signer) Valid(body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(s.newHash, s.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
