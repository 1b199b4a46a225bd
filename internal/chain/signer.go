package chain

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ed25519SchemeFlag is the signature-scheme byte prefixed to public keys
// and serialized signatures.
const ed25519SchemeFlag = 0x00

// txIntent is the intent prefix for transaction data: scope
// TransactionData, version V0, app Sui.
var txIntent = []byte{0, 0, 0}

// Signer holds the faucet's ed25519 key. The key is immutable after
// construction.
type Signer struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
}

// NewSigner decodes a 32-byte seed given as hex (optional 0x prefix) or
// standard base64 (optionally carrying the scheme flag byte) and derives
// the on-chain address: 0x plus the blake2b-256 digest of flag||pubkey.
func NewSigner(encoded string) (*Signer, error) {
	seed, err := decodeSeed(encoded)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	material := make([]byte, 0, 1+len(pub))
	material = append(material, ed25519SchemeFlag)
	material = append(material, pub...)
	digest := blake2b.Sum256(material)

	return &Signer{
		priv:    priv,
		pub:     pub,
		address: "0x" + hex.EncodeToString(digest[:]),
	}, nil
}

func decodeSeed(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if s == "" {
		return nil, fmt.Errorf("empty private key")
	}

	hexPart := strings.TrimPrefix(s, "0x")
	if len(hexPart) == 2*ed25519.SeedSize {
		if seed, err := hex.DecodeString(hexPart); err == nil {
			return seed, nil
		}
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("private key is neither 64 hex chars nor base64")
	}
	switch {
	case len(raw) == ed25519.SeedSize:
		return raw, nil
	case len(raw) == ed25519.SeedSize+1 && raw[0] == ed25519SchemeFlag:
		// Exported keys carry the scheme flag in front of the seed.
		return raw[1:], nil
	}
	return nil, fmt.Errorf("decoded private key must be 32 bytes, got %d", len(raw))
}

// Address returns the derived faucet address.
func (s *Signer) Address() string { return s.address }

// PublicKey returns the raw public key bytes.
func (s *Signer) PublicKey() []byte {
	out := make([]byte, len(s.pub))
	copy(out, s.pub)
	return out
}

// SignTransaction signs base64-encoded transaction bytes under the intent
// scheme: the signature covers blake2b-256(intent || txBytes). The result
// is the serialized form flag||signature||pubkey, base64 encoded, ready
// for transaction execution.
func (s *Signer) SignTransaction(txBytesB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil {
		return "", fmt.Errorf("decode tx bytes: %w", err)
	}

	msg := make([]byte, 0, len(txIntent)+len(raw))
	msg = append(msg, txIntent...)
	msg = append(msg, raw...)
	digest := blake2b.Sum256(msg)

	sig := ed25519.Sign(s.priv, digest[:])

	serialized := make([]byte, 0, 1+len(sig)+len(s.pub))
	serialized = append(serialized, ed25519SchemeFlag)
	serialized = append(serialized, sig...)
	serialized = append(serialized, s.pub...)
	return base64.StdEncoding.EncodeToString(serialized), nil
}
