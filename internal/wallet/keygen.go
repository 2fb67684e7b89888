package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/emberlane/walletfleet/internal/domain/model"
)

// Generate creates a fresh keypair and wraps it as a roster wallet.
func Generate(name string) (model.Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return model.Wallet{}, fmt.Errorf("generate keypair: %w", err)
	}
	return model.Wallet{
		PublicKey:  base58.Encode(pub),
		PrivateKey: priv,
		Name:       name,
	}, nil
}

// GenerateBurner creates a fresh keypair for an ephemeral wallet.
func GenerateBurner() (*model.BurnerWallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate burner keypair: %w", err)
	}
	return &model.BurnerWallet{
		PublicKey:  base58.Encode(pub),
		PrivateKey: priv,
		State:      model.BurnerCreated,
	}, nil
}

// DecodeSecret decodes a base58-encoded 64-byte ed25519 secret key and
// returns the credential together with its derived public key.
func DecodeSecret(secret string) (ed25519.PrivateKey, string, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, "", fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, "", fmt.Errorf("secret key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(raw)
	pub := base58.Encode(priv.Public().(ed25519.PublicKey))
	return priv, pub, nil
}

// EncodeSecret encodes a signing credential for persistence.
func EncodeSecret(priv ed25519.PrivateKey) string {
	return base58.Encode(priv)
}
