package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/everFinance/trustcoin/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "0x1111111111111111111111111111111111111111"
	addrB = "0x2222222222222222222222222222222222222222"
)

func TestWhitelist_SetAuthorization(t *testing.T) {
	f := newFakeChain()
	w := NewWhitelist(newTestClient(t, f), testRegistry, 7)
	ctx := context.Background()

	ok, err := w.IsAuthorized(ctx, addrA)
	assert.NoError(t, err)
	assert.False(t, ok)

	hash, err := w.SetAuthorization(ctx, addrA, true)
	require.NoError(t, err)
	status, err := w.AwaitConfirmation(ctx, hash)
	assert.NoError(t, err)
	assert.Equal(t, schema.TxSuccess, status)

	ok, err = w.IsAuthorized(ctx, addrA)
	assert.NoError(t, err)
	assert.True(t, ok)

	// other policies are untouched
	ok, err = w.IsAuthorizedIn(ctx, 8, addrA)
	assert.NoError(t, err)
	assert.False(t, ok)

	hash, err = w.SetAuthorization(ctx, addrA, false)
	require.NoError(t, err)
	_, err = w.AwaitConfirmation(ctx, hash)
	assert.NoError(t, err)
	ok, _ = w.IsAuthorized(ctx, addrA)
	assert.False(t, ok)
}

func TestWhitelist_ZeroPolicy(t *testing.T) {
	f := newFakeChain()
	w := NewWhitelist(newTestClient(t, f), testRegistry, 0)
	_, err := w.SetAuthorization(context.Background(), addrA, true)
	assert.ErrorIs(t, err, schema.ErrMisconfigured)
	assert.Len(t, f.sent, 0)
}

func TestWhitelist_ReadError(t *testing.T) {
	f := newFakeChain()
	f.callErr = errBoom
	w := NewWhitelist(newTestClient(t, f), testRegistry, 7)
	_, err := w.IsAuthorized(context.Background(), addrA)
	assert.ErrorIs(t, err, schema.ErrChainRead)

	_, err = w.IsAuthorized(context.Background(), "nope")
	assert.ErrorIs(t, err, schema.ErrInvalidAddress)
}

func TestWhitelist_Reverted(t *testing.T) {
	f := newFakeChain()
	f.revertNext = true
	w := NewWhitelist(newTestClient(t, f), testRegistry, 7)
	hash, err := w.SetAuthorization(context.Background(), addrA, true)
	require.NoError(t, err)
	status, err := w.AwaitConfirmation(context.Background(), hash)
	assert.Equal(t, schema.TxReverted, status)
	assert.ErrorIs(t, err, schema.ErrTxReverted)
}

func TestWhitelist_ConfirmTimeout(t *testing.T) {
	f := newFakeChain()
	f.neverMine = true
	w := NewWhitelist(newTestClient(t, f, WithConfirmTimeout(30*time.Millisecond)), testRegistry, 7)
	hash, err := w.SetAuthorization(context.Background(), addrA, true)
	require.NoError(t, err)
	status, err := w.AwaitConfirmation(context.Background(), hash)
	assert.Equal(t, schema.TxTimeout, status)
	assert.ErrorIs(t, err, schema.ErrTxTimeout)
}

func TestWaitForReceipt_Delayed(t *testing.T) {
	f := newFakeChain()
	c := newTestClient(t, f)
	hash, err := c.Send(context.Background(), testRegistry, RegistryABI, "modifyPolicyWhitelist", uint64(7), common.HexToAddress(addrA), true)
	require.NoError(t, err)
	f.hidden[hash] = 3
	status, rcpt, err := c.WaitForReceipt(context.Background(), hash, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, schema.TxSuccess, status)
	assert.Equal(t, hash, rcpt.TxHash)
}

func TestWhitelist_CreatePolicy(t *testing.T) {
	f := newFakeChain()
	w := NewWhitelist(newTestClient(t, f), testRegistry, 0)
	ctx := context.Background()

	before, err := w.PolicyCounter(ctx)
	require.NoError(t, err)

	id, hash, err := w.CreatePolicy(ctx, addrB, schema.PolicyWhitelist, []string{addrA, addrA})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Equal(t, before, id)

	after, _ := w.PolicyCounter(ctx)
	assert.Equal(t, before+1, after)

	ok, err := w.IsAuthorizedIn(ctx, id, addrA)
	assert.NoError(t, err)
	assert.True(t, ok)

	p, err := w.Policy(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.PolicyWhitelist, p.Type)
	_, err = w.Policy(ctx, 999)
	assert.ErrorIs(t, err, schema.ErrNotExist)

	_, _, err = w.CreatePolicy(ctx, addrB, schema.PolicyWhitelist, []string{"bad"})
	assert.ErrorIs(t, err, schema.ErrInvalidAddress)
}

func TestClient_ConcurrentSendsKeepNonceOrder(t *testing.T) {
	f := newFakeChain()
	f.nonce = 5
	c := newTestClient(t, f)
	w := NewWhitelist(c, testRegistry, 7)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := common.BigToAddress(big.NewInt(int64(i + 1))).Hex()
			if _, err := w.SetAuthorization(context.Background(), addr, true); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, f.sent, 20)
	for i, tx := range f.sent {
		assert.Equal(t, uint64(5+i), tx.Nonce())
	}
}

func TestClient_SendFailureReusesNonce(t *testing.T) {
	f := newFakeChain()
	c := newTestClient(t, f)
	w := NewWhitelist(c, testRegistry, 7)

	f.sendErr = rejectedErr{"insufficient funds for gas"}
	hash, err := w.SetAuthorization(context.Background(), addrA, true)
	assert.ErrorIs(t, err, schema.ErrChainWrite)
	assert.ErrorIs(t, err, schema.ErrTxNotSent)
	assert.Equal(t, "", hash)

	_, err = w.SetAuthorization(context.Background(), addrA, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.sent[0].Nonce())
}

func TestClient_SendTransportErrorKeepsHash(t *testing.T) {
	f := newFakeChain()
	c := newTestClient(t, f)
	tk := NewToken(c, testToken)

	f.sendErr = errBoom
	hash, err := tk.Mint(context.Background(), addrA, big.NewInt(1))
	assert.ErrorIs(t, err, schema.ErrChainWrite)
	assert.False(t, errors.Is(err, schema.ErrTxNotSent))
	assert.NotEmpty(t, hash)

	// nonce is resynced from the node on the next send
	_, err = tk.Mint(context.Background(), addrA, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.sent[0].Nonce())
}

func TestClient_SignsForChain(t *testing.T) {
	f := newFakeChain()
	c := newTestClient(t, f)
	_, err := NewToken(c, testToken).Mint(context.Background(), addrA, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, f.sent, 1)

	tx := f.sent[0]
	assert.Equal(t, 0, f.chainID.Cmp(tx.ChainId()))
	from, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, c.Admin(), from)
}

func TestClient_ReadOnly(t *testing.T) {
	f := newFakeChain()
	c := NewClient(f, nil, f.chainID)
	assert.Equal(t, common.Address{}, c.Admin())
	_, err := NewWhitelist(c, testRegistry, 7).SetAuthorization(context.Background(), addrA, true)
	assert.ErrorIs(t, err, schema.ErrMisconfigured)
}

func TestToken(t *testing.T) {
	f := newFakeChain()
	tk := NewToken(newTestClient(t, f), testToken)
	ctx := context.Background()

	bal, err := tk.BalanceOf(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Int64())

	hash, err := tk.Mint(ctx, addrA, big.NewInt(250_000_000))
	require.NoError(t, err)
	status, mined, err := tk.TxStatus(ctx, hash)
	assert.NoError(t, err)
	assert.True(t, mined)
	assert.Equal(t, schema.TxSuccess, status)
	status, err = tk.AwaitConfirmation(ctx, hash)
	assert.NoError(t, err)
	assert.Equal(t, schema.TxSuccess, status)

	bal, _ = tk.BalanceOf(ctx, addrA)
	assert.Equal(t, int64(250_000_000), bal.Int64())

	_, err = tk.Mint(ctx, addrA, big.NewInt(0))
	assert.ErrorIs(t, err, schema.ErrMisconfigured)

	d, err := tk.Decimals(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint8(6), d)

	_, err = tk.SetTransferPolicy(ctx, 9)
	require.NoError(t, err)
	id, err := tk.TransferPolicyId(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(9), id)
}

func TestToken_TxStatusPending(t *testing.T) {
	f := newFakeChain()
	f.neverMine = true
	tk := NewToken(newTestClient(t, f), testToken)
	hash, err := tk.Mint(context.Background(), addrA, big.NewInt(1))
	require.NoError(t, err)
	_, mined, err := tk.TxStatus(context.Background(), hash)
	assert.NoError(t, err)
	assert.False(t, mined)
}

type countingSource struct {
	n     uint64
	calls int
}

func (s *countingSource) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.calls++
	return s.n, nil
}

func TestNonceAllocator(t *testing.T) {
	src := &countingSource{n: 10}
	na := NewNonceAllocator(src, common.HexToAddress(addrA))
	ctx := context.Background()

	n0, _ := na.Reserve(ctx)
	n1, _ := na.Reserve(ctx)
	assert.Equal(t, uint64(10), n0)
	assert.Equal(t, uint64(11), n1)
	assert.Equal(t, 1, src.calls)

	// latest released: reused without a refetch
	na.Release(n1)
	n2, _ := na.Reserve(ctx)
	assert.Equal(t, uint64(11), n2)
	assert.Equal(t, 1, src.calls)

	// releasing an older one forces a resync
	na.Release(n0)
	src.n = 12
	n3, _ := na.Reserve(ctx)
	assert.Equal(t, uint64(12), n3)
	assert.Equal(t, 2, src.calls)

	na.Reset()
	_, _ = na.Reserve(ctx)
	assert.Equal(t, 3, src.calls)
}
