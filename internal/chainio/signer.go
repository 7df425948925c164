package chainio

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/avln0x/sweepguard/internal/resilience"
)

// Signer holds the compromised wallet's key and signs sweep transactions
// locally. The key never leaves the process.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewSignerFromHex parses a hex private key (with or without 0x).
func NewSignerFromHex(pkHex string) (*Signer, error) {
	h := strings.TrimSpace(strings.TrimPrefix(pkHex, "0x"))
	if h == "" {
		return nil, fmt.Errorf("%w: empty private key", resilience.ErrInvalidCredential)
	}
	key, err := gethcrypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", resilience.ErrInvalidCredential, err)
	}
	return &Signer{key: key, addr: gethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the account the signer controls.
func (s *Signer) Address() common.Address { return s.addr }

// SignTx signs with the latest signer for the given chain ID.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// Key exposes the raw key so it can double as the relay auth identity.
func (s *Signer) Key() *ecdsa.PrivateKey { return s.key }
