package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/flashbots"
	w3 "github.com/lmittmann/w3"

	"github.com/avln0x/sweepguard/internal/chainio"
	"github.com/avln0x/sweepguard/internal/txbuild"
)

// FlashbotsClient talks to a Flashbots-compatible relay over its signed
// JSON-RPC surface (eth_sendBundle / eth_callBundle) and resolves inclusion
// by watching the chain.
type FlashbotsClient struct {
	url          string
	client       *w3.Client
	chain        chainio.Provider
	pollInterval time.Duration
	log          *slog.Logger
}

// NewFlashbotsClient dials the relay. authKey signs the X-Flashbots-Signature
// header; it is a reputation identity, not a funded account.
func NewFlashbotsClient(url string, authKey *ecdsa.PrivateKey, chain chainio.Provider, log *slog.Logger) *FlashbotsClient {
	return &FlashbotsClient{
		url:          url,
		client:       flashbots.MustDial(url, authKey),
		chain:        chain,
		pollInterval: 300 * time.Millisecond,
		log:          log,
	}
}

type flashHandle struct {
	bundle     *txbuild.Bundle
	target     uint64
	bundleHash common.Hash
}

func (h *flashHandle) TargetBlock() uint64 { return h.target }

// sendBundleCall is a hand-built eth_sendBundle caller. The library request
// type has no replacementUuid field, and the relay needs it so a re-priced
// submission for a later target supersedes the earlier ones.
type sendBundleCall struct {
	params sendBundleParams
	hash   *common.Hash
	resp   struct {
		BundleHash common.Hash `json:"bundleHash"`
	}
}

type sendBundleParams struct {
	Txs             []string `json:"txs"`
	BlockNumber     string   `json:"blockNumber"`
	ReplacementUUID string   `json:"replacementUuid,omitempty"`
}

func (c *sendBundleCall) CreateRequest() (rpc.BatchElem, error) {
	return rpc.BatchElem{
		Method: "eth_sendBundle",
		Args:   []any{c.params},
		Result: &c.resp,
	}, nil
}

func (c *sendBundleCall) HandleResponse(elem rpc.BatchElem) error {
	if elem.Error != nil {
		return elem.Error
	}
	*c.hash = c.resp.BundleHash
	return nil
}

// Submit sends the bundle for exactly targetBlock, tagged with the bundle's
// replacement UUID.
func (c *FlashbotsClient) Submit(ctx context.Context, bundle *txbuild.Bundle, targetBlock uint64) (Handle, error) {
	raw, err := bundle.RawHex()
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	var bundleHash common.Hash
	err = c.client.CallCtx(ctx, &sendBundleCall{
		params: sendBundleParams{
			Txs:             raw,
			BlockNumber:     hexutil.EncodeUint64(targetBlock),
			ReplacementUUID: bundle.ReplacementID,
		},
		hash: &bundleHash,
	})
	if err != nil {
		return nil, fmt.Errorf("sendBundle(%s, block %d): %w", c.url, targetBlock, err)
	}
	c.log.Debug("bundle submitted",
		"relay", c.url,
		"target", targetBlock,
		"bundleHash", bundleHash.Hex(),
		"replacementID", bundle.ReplacementID,
	)
	return &flashHandle{bundle: bundle, target: targetBlock, bundleHash: bundleHash}, nil
}

// Simulate dry-runs the bundle against the latest state for targetBlock.
func (c *FlashbotsClient) Simulate(ctx context.Context, bundle *txbuild.Bundle, targetBlock uint64) error {
	var resp flashbots.CallBundleResponse
	err := c.client.CallCtx(ctx,
		flashbots.CallBundle(&flashbots.CallBundleRequest{
			Transactions: bundle.Transactions(),
			BlockNumber:  new(big.Int).SetUint64(targetBlock),
		}).Returns(&resp),
	)
	if err != nil {
		return fmt.Errorf("callBundle(%s, block %d): %w", c.url, targetBlock, err)
	}
	if len(resp.Results) == 0 {
		return errors.New("callBundle: empty response")
	}
	for _, r := range resp.Results {
		if r.Error != nil {
			return fmt.Errorf("simulation: %w", r.Error)
		}
		if len(r.Revert) > 0 {
			return fmt.Errorf("simulation revert: %s", r.Revert)
		}
	}
	return nil
}

// AwaitResolution waits for the target block to pass, then classifies the
// outcome from the sweep receipt and the account nonce. A nonce advanced past
// the sweep's without our hash means a competing transaction consumed it.
func (c *FlashbotsClient) AwaitResolution(ctx context.Context, h Handle) (Resolution, error) {
	fh, ok := h.(*flashHandle)
	if !ok {
		return Resolution{}, errors.New("awaitResolution: foreign handle")
	}
	sweep := fh.bundle.SweepTx()
	if sweep == nil {
		return Resolution{}, errors.New("awaitResolution: empty bundle")
	}
	sender := fh.bundle.Txs[len(fh.bundle.Txs)-1].Sender

	for {
		head, err := c.chain.BlockNumber(ctx)
		if err != nil {
			return Resolution{}, fmt.Errorf("head: %w", err)
		}
		if head >= fh.target {
			break
		}
		select {
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	rcpt, err := c.chain.TransactionReceipt(ctx, sweep.Hash())
	if err == nil && rcpt != nil && rcpt.Status == types.ReceiptStatusSuccessful {
		return Resolution{
			Status:      StatusIncluded,
			TxHash:      sweep.Hash(),
			BlockNumber: rcpt.BlockNumber.Uint64(),
		}, nil
	}

	latestNonce, err := c.chain.Nonce(ctx, sender)
	if err != nil {
		return Resolution{}, fmt.Errorf("nonce(%s): %w", sender.Hex(), err)
	}
	if latestNonce > sweep.Nonce() {
		return Resolution{Status: StatusNonceRejected}, nil
	}
	return Resolution{Status: StatusPassed}, nil
}
