package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/everFinance/trustcoin/schema"
)

// Whitelist is the registry adapter bound to one policy id.
type Whitelist struct {
	client   *Client
	registry common.Address
	policyId uint64
}

func NewWhitelist(client *Client, registry common.Address, policyId uint64) *Whitelist {
	return &Whitelist{client: client, registry: registry, policyId: policyId}
}

func (w *Whitelist) PolicyId() uint64 {
	return w.policyId
}

// Admin is the account that signs registry writes.
func (w *Whitelist) Admin() common.Address {
	return w.client.Admin()
}

func (w *Whitelist) Registry() common.Address {
	return w.registry
}

func (w *Whitelist) IsAuthorized(ctx context.Context, addr string) (bool, error) {
	return w.IsAuthorizedIn(ctx, w.policyId, addr)
}

func (w *Whitelist) IsAuthorizedIn(ctx context.Context, policyId uint64, addr string) (bool, error) {
	a, err := schema.NormalizeAddress(addr)
	if err != nil {
		return false, err
	}
	out, err := w.client.Call(ctx, w.registry, RegistryABI, "isAuthorized", policyId, common.HexToAddress(a))
	if err != nil {
		return false, err
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// SetAuthorization broadcasts the whitelist mutation and returns its tx hash.
func (w *Whitelist) SetAuthorization(ctx context.Context, addr string, allowed bool) (string, error) {
	if w.policyId == 0 {
		return "", fmt.Errorf("%w: policy id is zero", schema.ErrMisconfigured)
	}
	a, err := schema.NormalizeAddress(addr)
	if err != nil {
		return "", err
	}
	hash, err := w.client.Send(ctx, w.registry, RegistryABI, "modifyPolicyWhitelist", w.policyId, common.HexToAddress(a), allowed)
	if err != nil {
		return txHex(hash), err
	}
	return hash.Hex(), nil
}

func (w *Whitelist) AwaitConfirmation(ctx context.Context, txHash string) (schema.TxStatus, error) {
	status, _, err := w.client.WaitForReceipt(ctx, common.HexToHash(txHash), 0)
	metricTx("modifyPolicyWhitelist", string(status))
	return status, err
}

func (w *Whitelist) PolicyCounter(ctx context.Context) (uint64, error) {
	out, err := w.client.Call(ctx, w.registry, RegistryABI, "policyIdCounter")
	if err != nil {
		return 0, err
	}
	n, _ := out[0].(uint64)
	return n, nil
}

func (w *Whitelist) Policy(ctx context.Context, policyId uint64) (*schema.WhitelistPolicy, error) {
	out, err := w.client.Call(ctx, w.registry, RegistryABI, "policyData", policyId)
	if err != nil {
		return nil, err
	}
	ptype, _ := out[0].(uint8)
	admin, _ := out[1].(common.Address)
	if admin == (common.Address{}) {
		return nil, schema.ErrNotExist
	}
	return &schema.WhitelistPolicy{
		PolicyId: policyId,
		Type:     schema.PolicyType(ptype),
		Admin:    admin.Hex(),
	}, nil
}

// CreatePolicy creates a policy administered by admin, seeded with accounts, and waits
// for it to be mined. The new id comes from the PolicyCreated log.
func (w *Whitelist) CreatePolicy(ctx context.Context, admin string, ptype schema.PolicyType, accounts []string) (uint64, string, error) {
	a, err := schema.NormalizeAddress(admin)
	if err != nil {
		return 0, "", err
	}
	addrs := make([]common.Address, 0, len(accounts))
	norm, invalid := schema.NormalizeAddresses(accounts)
	if len(invalid) > 0 {
		return 0, "", fmt.Errorf("%w: %v", schema.ErrInvalidAddress, invalid)
	}
	for _, acc := range norm {
		addrs = append(addrs, common.HexToAddress(acc))
	}

	hash, err := w.client.Send(ctx, w.registry, RegistryABI, "createPolicyWithAccounts", common.HexToAddress(a), uint8(ptype), addrs)
	if err != nil {
		return 0, "", err
	}
	status, rcpt, err := w.client.WaitForReceipt(ctx, hash, 0)
	metricTx("createPolicyWithAccounts", string(status))
	if err != nil {
		return 0, hash.Hex(), err
	}
	id, ok := policyIdFromLogs(rcpt)
	if !ok {
		// registry without the event: the counter was bumped by our tx
		cnt, err := w.PolicyCounter(ctx)
		if err != nil {
			return 0, hash.Hex(), err
		}
		id = cnt - 1
	}
	return id, hash.Hex(), nil
}

func policyIdFromLogs(rcpt *types.Receipt) (uint64, bool) {
	ev := RegistryABI.Events["PolicyCreated"]
	for _, l := range rcpt.Logs {
		if len(l.Topics) < 2 || l.Topics[0] != ev.ID {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(), true
	}
	return 0, false
}
