package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/everFinance/goether"
	"github.com/everFinance/trustcoin/schema"
	"github.com/jpillora/backoff"

	tcommon "github.com/everFinance/trustcoin/common"
)

var log = tcommon.NewLog("chain")

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollMin        = 500 * time.Millisecond
	defaultPollMax        = 5 * time.Second
)

// Backend is the slice of an Ethereum JSON-RPC client the adapters need. *ethclient.Client satisfies it.
type Backend interface {
	NonceSource
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Option func(*Client)

func WithGasLimit(limit uint64) Option {
	return func(c *Client) { c.gasLimit = limit }
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

func WithPollInterval(min, max time.Duration) Option {
	return func(c *Client) {
		c.pollMin, c.pollMax = min, max
	}
}

// Client reads contracts and submits admin-signed transactions. Submission is serialized
// per signer so nonces are broadcast in order; confirmation waits run in parallel.
type Client struct {
	backend Backend
	signer  *goether.Signer
	chainID *big.Int
	nonces  *NonceAllocator

	sendLock sync.Mutex

	gasLimit       uint64
	confirmTimeout time.Duration
	pollMin        time.Duration
	pollMax        time.Duration
}

// NewClient builds a client on an existing backend. signer may be nil for read-only use.
func NewClient(backend Backend, signer *goether.Signer, chainID *big.Int, opts ...Option) *Client {
	c := &Client{
		backend:        backend,
		signer:         signer,
		chainID:        chainID,
		confirmTimeout: defaultConfirmTimeout,
		pollMin:        defaultPollMin,
		pollMax:        defaultPollMax,
	}
	if signer != nil {
		c.nonces = NewNonceAllocator(backend, signer.Address)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to rpcUrl. chainId 0 means ask the node.
func Dial(ctx context.Context, rpcUrl, adminKey string, chainId int64, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", schema.ErrChainRead, rpcUrl, err)
	}
	var signer *goether.Signer
	if adminKey != "" {
		signer, err = goether.NewSigner(strings.TrimPrefix(adminKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid admin key", schema.ErrMisconfigured)
		}
	}
	var chainID *big.Int
	if chainId > 0 {
		chainID = big.NewInt(chainId)
	} else {
		chainID, err = ec.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: chain id: %v", schema.ErrChainRead, err)
		}
	}
	return NewClient(ec, signer, chainID, opts...), nil
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Admin returns the signing account, or the zero address for a read-only client.
func (c *Client) Admin() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address
}

func (c *Client) Nonces() *NonceAllocator {
	return c.nonces
}

// Call runs a view method and returns its decoded outputs.
func (c *Client) Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", schema.ErrMisconfigured, method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schema.ErrChainRead, method, err)
	}
	res, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", schema.ErrChainRead, method, err)
	}
	return res, nil
}

// Send signs and broadcasts a call to method. It returns once the node accepted the
// transaction; use WaitForReceipt for the outcome. Errors wrapping schema.ErrTxNotSent
// guarantee nothing was broadcast. Any other send error comes with the signed hash,
// since the node may have received the tx before the connection failed.
func (c *Client) Send(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, fmt.Errorf("%w: no admin key configured", schema.ErrMisconfigured)
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack %s: %v", schema.ErrMisconfigured, method, err)
	}

	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	nonce, err := c.nonces.Reserve(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w: nonce: %v", schema.ErrChainWrite, schema.ErrTxNotSent, err)
	}
	tx, err := c.buildTx(ctx, to, data, nonce)
	if err != nil {
		c.nonces.Release(nonce)
		return common.Hash{}, fmt.Errorf("%w: %w", schema.ErrTxNotSent, err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.signer.GetPrivateKey())
	if err != nil {
		c.nonces.Release(nonce)
		return common.Hash{}, fmt.Errorf("%w: %w: sign %s: %v", schema.ErrChainWrite, schema.ErrTxNotSent, method, err)
	}
	if err = c.backend.SendTransaction(ctx, signed); err != nil {
		log.Error("c.backend.SendTransaction(signed)", "err", err, "method", method, "nonce", nonce, "hash", signed.Hash().Hex())
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			// the node answered and refused the tx
			c.nonces.Release(nonce)
			if strings.Contains(strings.ToLower(err.Error()), "nonce") {
				c.nonces.Reset()
			}
			return common.Hash{}, fmt.Errorf("%w: %w: send %s: %v", schema.ErrChainWrite, schema.ErrTxNotSent, method, err)
		}
		// no answer: the tx may still be in the pool, so its hash stays with the caller
		c.nonces.Reset()
		return signed.Hash(), fmt.Errorf("%w: send %s: %v", schema.ErrChainWrite, method, err)
	}
	log.Debug("tx sent", "method", method, "hash", signed.Hash().Hex(), "nonce", nonce)
	return signed.Hash(), nil
}

func (c *Client) buildTx(ctx context.Context, to common.Address, data []byte, nonce uint64) (*types.Transaction, error) {
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %v", schema.ErrChainWrite, err)
	}
	gas := c.gasLimit
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.signer.Address, To: &to, Data: data})
		if err != nil {
			return nil, fmt.Errorf("%w: estimate gas: %v", schema.ErrChainWrite, err)
		}
		gas = gas * 12 / 10
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}), nil
}

// WaitForReceipt polls until the transaction is mined or timeout elapses.
// timeout <= 0 uses the client's confirm timeout.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (schema.TxStatus, *types.Receipt, error) {
	if timeout <= 0 {
		timeout = c.confirmTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := &backoff.Backoff{Min: c.pollMin, Max: c.pollMax, Factor: 1.5, Jitter: true}
	for {
		rcpt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && rcpt != nil {
			if rcpt.Status == types.ReceiptStatusSuccessful {
				return schema.TxSuccess, rcpt, nil
			}
			return schema.TxReverted, rcpt, fmt.Errorf("%w: %s", schema.ErrTxReverted, hash.Hex())
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			log.Warn("c.backend.TransactionReceipt(hash)", "err", err, "hash", hash.Hex())
		}
		select {
		case <-ctx.Done():
			return schema.TxTimeout, nil, fmt.Errorf("%w: %s", schema.ErrTxTimeout, hash.Hex())
		case <-time.After(b.Duration()):
		}
	}
}

// Receipt does a single lookup. A nil receipt with nil error means not mined yet.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	rcpt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: receipt: %v", schema.ErrChainRead, err)
	}
	return rcpt, nil
}

// txHex is "" for the zero hash.
func txHex(hash common.Hash) string {
	if hash == (common.Hash{}) {
		return ""
	}
	return hash.Hex()
}
