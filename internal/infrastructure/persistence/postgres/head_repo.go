package postgres

import (
	"context"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/codec"
)

// HeadRepository persists the last sealed block so block numbering and the
// hash chain continue across restarts.
type HeadRepository struct {
	conn *Connection
}

// NewHeadRepository creates a new HeadRepository.
func NewHeadRepository(conn *Connection) *HeadRepository {
	return &HeadRepository{conn: conn}
}

// LoadHead returns the last sealed block. ok is false on a fresh database.
func (r *HeadRepository) LoadHead(ctx context.Context) (number shared.BlockNumber, hash codec.Hash, ok bool, err error) {
	var n int64
	var raw []byte

	err = r.conn.QueryRow(ctx, `SELECT number, hash FROM ledger_head WHERE id = 1`).Scan(&n, &raw)
	if IsNoRows(err) {
		return 0, codec.Hash{}, false, nil
	}
	if err != nil {
		return 0, codec.Hash{}, false, storageError("LoadHead", err)
	}
	if len(raw) != codec.HashSize {
		return 0, codec.Hash{}, false, shared.WrapError("postgres", "LoadHead", shared.ErrStorage, "stored head hash has wrong size", nil)
	}

	copy(hash[:], raw)
	return shared.BlockNumber(n), hash, true, nil
}

// SaveHead records block number and hash as the head.
func (r *HeadRepository) SaveHead(ctx context.Context, number shared.BlockNumber, hash codec.Hash) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO ledger_head (id, number, hash, sealed_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			number = EXCLUDED.number,
			hash = EXCLUDED.hash,
			sealed_at = EXCLUDED.sealed_at
	`, int64(number), hash[:])
	if err != nil {
		return storageError("SaveHead", err)
	}
	return nil
}
