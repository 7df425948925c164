package chainio

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client adapts *ethclient.Client to the Provider interface. Head
// subscriptions require a websocket endpoint; everything else works over
// plain HTTP RPC.
type Client struct {
	ec *ethclient.Client
}

// Dial connects to rawurl and wraps the resulting client.
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{ec: ec}, nil
}

// NewClient wraps an already-dialed ethclient.
func NewClient(ec *ethclient.Client) *Client { return &Client{ec: ec} }

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, addr, nil)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

// FeeData reads the head base fee and the node's suggested priority fee. A
// missing base fee (pre-1559 chain) is reported as an error, not defaulted.
func (c *Client) FeeData(ctx context.Context) (*FeeData, error) {
	head, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	if head.BaseFee == nil {
		return nil, fmt.Errorf("no baseFee in head %s (pre-1559?)", head.Number)
	}
	tip, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil {
		tip = nil
	}
	return &FeeData{
		BaseFee:      new(big.Int).Set(head.BaseFee),
		SuggestedTip: tip,
	}, nil
}

func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.ec.PendingNonceAt(ctx, addr)
}

func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.ec.NonceAt(ctx, addr, nil)
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ec.ChainID(ctx)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ec.TransactionReceipt(ctx, txHash)
}

func (c *Client) SubscribeHeads(ctx context.Context) (HeadSubscription, error) {
	heads := make(chan *types.Header, 16)
	sub, err := c.ec.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, fmt.Errorf("subscribe heads: %w", err)
	}
	return &gethHeadSub{heads: heads, sub: sub}, nil
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() { c.ec.Close() }

type gethHeadSub struct {
	heads chan *types.Header
	sub   interface {
		Unsubscribe()
		Err() <-chan error
	}
}

func (s *gethHeadSub) Heads() <-chan *types.Header { return s.heads }
func (s *gethHeadSub) Err() <-chan error           { return s.sub.Err() }
func (s *gethHeadSub) Unsubscribe()                { s.sub.Unsubscribe() }
