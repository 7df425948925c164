package txbuild

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SignedTx pairs a signed transaction with the account that signed it.
type SignedTx struct {
	Tx     *types.Transaction
	Sender common.Address
}

// Bundle is an ordered list of signed transactions submitted atomically to a
// relay. The sweep is a single-tx bundle today; the submission contract does
// not change when more transactions are added.
type Bundle struct {
	// ReplacementID lets a re-priced submission supersede earlier ones for
	// relays that support replacement UUIDs.
	ReplacementID string
	Txs           []SignedTx
}

// Transactions returns the raw transaction list in bundle order.
func (b *Bundle) Transactions() []*types.Transaction {
	out := make([]*types.Transaction, 0, len(b.Txs))
	for _, t := range b.Txs {
		out = append(out, t.Tx)
	}
	return out
}

// RawHex returns the 0x-prefixed RLP encoding of each transaction.
func (b *Bundle) RawHex() ([]string, error) {
	out := make([]string, 0, len(b.Txs))
	for _, t := range b.Txs {
		raw, err := t.Tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode tx %s: %w", t.Tx.Hash().Hex(), err)
		}
		out = append(out, "0x"+hex.EncodeToString(raw))
	}
	return out, nil
}

// SweepTx returns the transaction whose inclusion decides the attempt: the
// last one in the bundle.
func (b *Bundle) SweepTx() *types.Transaction {
	if len(b.Txs) == 0 {
		return nil
	}
	return b.Txs[len(b.Txs)-1].Tx
}

// Validate is the cheap structural guard run before submission: the bundle
// is non-empty and every entry carries a payload and a signer reference.
func Validate(b *Bundle) error {
	if b == nil || len(b.Txs) == 0 {
		return fmt.Errorf("%w: empty bundle", ErrInvalidBundle)
	}
	for i, t := range b.Txs {
		if t.Tx == nil {
			return fmt.Errorf("%w: entry %d has no transaction", ErrInvalidBundle, i)
		}
		if t.Sender == (common.Address{}) {
			return fmt.Errorf("%w: entry %d has no signer", ErrInvalidBundle, i)
		}
	}
	return nil
}
