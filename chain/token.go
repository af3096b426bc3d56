package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/everFinance/trustcoin/schema"
)

type Token struct {
	client *Client
	token  common.Address
}

func NewToken(client *Client, token common.Address) *Token {
	return &Token{client: client, token: token}
}

func (t *Token) Address() common.Address {
	return t.token
}

func (t *Token) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	a, err := schema.NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	out, err := t.client.Call(ctx, t.token, TokenABI, "balanceOf", common.HexToAddress(a))
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: balanceOf returned %T", schema.ErrChainRead, out[0])
	}
	return bal, nil
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.client.Call(ctx, t.token, TokenABI, "decimals")
	if err != nil {
		return 0, err
	}
	d, _ := out[0].(uint8)
	return d, nil
}

// Mint broadcasts a mint of amount base units to addr.
func (t *Token) Mint(ctx context.Context, addr string, amount *big.Int) (string, error) {
	a, err := schema.NormalizeAddress(addr)
	if err != nil {
		return "", err
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: mint amount must be positive", schema.ErrMisconfigured)
	}
	hash, err := t.client.Send(ctx, t.token, TokenABI, "mint", common.HexToAddress(a), amount)
	if err != nil {
		return txHex(hash), err
	}
	return hash.Hex(), nil
}

func (t *Token) AwaitConfirmation(ctx context.Context, txHash string) (schema.TxStatus, error) {
	status, _, err := t.client.WaitForReceipt(ctx, common.HexToHash(txHash), 0)
	metricTx("mint", string(status))
	return status, err
}

// TxStatus looks a transaction up once. mined is false while it is still pending.
func (t *Token) TxStatus(ctx context.Context, txHash string) (status schema.TxStatus, mined bool, err error) {
	rcpt, err := t.client.Receipt(ctx, common.HexToHash(txHash))
	if err != nil || rcpt == nil {
		return schema.TxTimeout, false, err
	}
	if rcpt.Status == types.ReceiptStatusSuccessful {
		return schema.TxSuccess, true, nil
	}
	return schema.TxReverted, true, nil
}

func (t *Token) TransferPolicyId(ctx context.Context) (uint64, error) {
	out, err := t.client.Call(ctx, t.token, TokenABI, "transferPolicyId")
	if err != nil {
		return 0, err
	}
	id, _ := out[0].(uint64)
	return id, nil
}

// SetTransferPolicy binds the token to policyId and waits for confirmation.
func (t *Token) SetTransferPolicy(ctx context.Context, policyId uint64) (string, error) {
	hash, err := t.client.Send(ctx, t.token, TokenABI, "changeTransferPolicyId", policyId)
	if err != nil {
		return "", err
	}
	status, _, err := t.client.WaitForReceipt(ctx, hash, 0)
	metricTx("changeTransferPolicyId", string(status))
	return hash.Hex(), err
}
