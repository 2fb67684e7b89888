package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/wallet"
)

const rosterSchema = `
CREATE TABLE IF NOT EXISTS wallets (
	public_key TEXT PRIMARY KEY,
	secret_key TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	seasoned   BOOLEAN NOT NULL DEFAULT FALSE,
	tag        TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RosterRepo persists the wallet roster in postgres, implementing
// store.Roster.
type RosterRepo struct {
	db *DB
}

func NewRosterRepo(db *DB) *RosterRepo {
	return &RosterRepo{db: db}
}

// EnsureSchema creates the wallets table when absent.
func (r *RosterRepo) EnsureSchema(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, rosterSchema); err != nil {
		return fmt.Errorf("ensure wallets schema: %w", err)
	}
	return nil
}

func (r *RosterRepo) Load(ctx context.Context) ([]model.Wallet, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT public_key, secret_key, name, seasoned, tag
		FROM wallets
		ORDER BY created_at, public_key`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []model.Wallet
	for rows.Next() {
		var publicKey, secretKey, name, tag string
		var seasoned bool
		if err := rows.Scan(&publicKey, &secretKey, &name, &seasoned, &tag); err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		priv, derived, err := wallet.DecodeSecret(secretKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", publicKey, err)
		}
		if derived != publicKey {
			return nil, fmt.Errorf("wallet %s: stored secret derives %s", publicKey, derived)
		}
		wallets = append(wallets, model.Wallet{
			PublicKey:  publicKey,
			PrivateKey: priv,
			Name:       name,
			Seasoned:   seasoned,
			Tag:        tag,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	if wallets == nil {
		wallets = []model.Wallet{}
	}
	return wallets, nil
}

// Save upserts every wallet and removes rows no longer in the roster, in
// one transaction so a failed save never leaves a partial roster behind.
func (r *RosterRepo) Save(ctx context.Context, wallets []model.Wallet) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin roster save: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(wallets))
	for _, w := range wallets {
		keys = append(keys, w.PublicKey)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (public_key, secret_key, name, seasoned, tag)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (public_key) DO UPDATE SET
				name = EXCLUDED.name,
				seasoned = EXCLUDED.seasoned,
				tag = EXCLUDED.tag,
				updated_at = now()`,
			w.PublicKey, wallet.EncodeSecret(w.PrivateKey), w.Name, w.Seasoned, w.Tag,
		); err != nil {
			return fmt.Errorf("upsert wallet %s: %w", w.PublicKey, err)
		}
	}

	if len(keys) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM wallets`); err != nil {
			return fmt.Errorf("clear wallets: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM wallets WHERE public_key <> ALL($1)`, pq.Array(keys),
		); err != nil {
			return fmt.Errorf("prune removed wallets: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster save: %w", err)
	}
	return nil
}
