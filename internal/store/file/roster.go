package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/wallet"
)

// walletRecord is the on-disk roster entry. Secrets are base58-encoded
// ed25519 keypairs; the public key is stored alongside and re-derived on
// load as a corruption check.
type walletRecord struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Name      string `yaml:"name"`
	Seasoned  bool   `yaml:"seasoned"`
	Tag       string `yaml:"tag,omitempty"`
}

// Roster stores the wallet roster as a YAML file.
type Roster struct {
	path string
}

func NewRoster(path string) *Roster {
	return &Roster{path: path}
}

func (r *Roster) Load(ctx context.Context) ([]model.Wallet, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Wallet{}, nil
		}
		return nil, fmt.Errorf("read roster %s: %w", r.path, err)
	}

	var records []walletRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", r.path, err)
	}

	wallets := make([]model.Wallet, 0, len(records))
	for i, rec := range records {
		priv, pub, err := wallet.DecodeSecret(rec.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("roster entry %d: %w", i, err)
		}
		if rec.PublicKey != "" && rec.PublicKey != pub {
			return nil, fmt.Errorf("roster entry %d: public key %s does not match secret", i, rec.PublicKey)
		}
		wallets = append(wallets, model.Wallet{
			PublicKey:  pub,
			PrivateKey: priv,
			Name:       rec.Name,
			Seasoned:   rec.Seasoned,
			Tag:        rec.Tag,
		})
	}
	return wallets, nil
}

func (r *Roster) Save(ctx context.Context, wallets []model.Wallet) error {
	records := make([]walletRecord, 0, len(wallets))
	for _, w := range wallets {
		records = append(records, walletRecord{
			PublicKey: w.PublicKey,
			SecretKey: wallet.EncodeSecret(w.PrivateKey),
			Name:      w.Name,
			Seasoned:  w.Seasoned,
			Tag:       w.Tag,
		})
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create roster dir: %w", err)
		}
	}

	// Write-and-rename so a crash mid-save never corrupts the roster.
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}
	return nil
}
