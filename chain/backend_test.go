package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/everFinance/goether"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "4c3f9a1e5b234ce8f1ab58d82f849c0f70a4d5ceaf2b6e2d9a6c58b1f897ef0a"

var (
	testRegistry = common.HexToAddress("0x403c000000000000000000000000000000000000")
	testToken    = common.HexToAddress("0x20c0000000000000000000000000000000000001")
)

// fakeChain decodes calldata against the registry and token ABIs and keeps their state in memory.
type fakeChain struct {
	mu sync.Mutex

	chainID *big.Int
	nonce   uint64

	authorized  map[uint64]map[common.Address]bool
	balances    map[common.Address]*big.Int
	counter     uint64
	tokenPolicy uint64

	receipts map[common.Hash]*types.Receipt
	hidden   map[common.Hash]int

	sent       []*types.Transaction
	revertNext bool
	neverMine  bool
	callErr    error
	sendErr    error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:    big.NewInt(42429),
		authorized: make(map[uint64]map[common.Address]bool),
		balances:   make(map[common.Address]*big.Int),
		counter:    2,
		receipts:   make(map[common.Hash]*types.Receipt),
		hidden:     make(map[common.Hash]int),
	}
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 50000, nil
}

func (f *fakeChain) contractABI(to *common.Address) abi.ABI {
	if to != nil && *to == testToken {
		return TokenABI
	}
	return RegistryABI
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	contract := f.contractABI(call.To)
	method, err := contract.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "isAuthorized":
		return method.Outputs.Pack(f.authorized[args[0].(uint64)][args[1].(common.Address)])
	case "policyIdCounter":
		return method.Outputs.Pack(f.counter)
	case "policyData":
		id := args[0].(uint64)
		if id == 0 || id >= f.counter {
			return method.Outputs.Pack(uint8(0), common.Address{})
		}
		return method.Outputs.Pack(uint8(0), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	case "balanceOf":
		bal := f.balances[args[0].(common.Address)]
		if bal == nil {
			bal = big.NewInt(0)
		}
		return method.Outputs.Pack(bal)
	case "decimals":
		return method.Outputs.Pack(uint8(6))
	case "transferPolicyId":
		return method.Outputs.Pack(f.tokenPolicy)
	}
	return nil, fmt.Errorf("unexpected call %s", method.Name)
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		return err
	}
	if _, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx); err != nil {
		return err
	}
	if tx.Nonce() != f.nonce {
		return fmt.Errorf("nonce mismatch: got %d want %d", tx.Nonce(), f.nonce)
	}
	f.nonce++
	f.sent = append(f.sent, tx)

	rcpt := &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful}
	if f.revertNext {
		f.revertNext = false
		rcpt.Status = types.ReceiptStatusFailed
		f.receipts[tx.Hash()] = rcpt
		return nil
	}
	contract := f.contractABI(tx.To())
	method, err := contract.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}
	switch method.Name {
	case "modifyPolicyWhitelist":
		id := args[0].(uint64)
		if f.authorized[id] == nil {
			f.authorized[id] = make(map[common.Address]bool)
		}
		f.authorized[id][args[1].(common.Address)] = args[2].(bool)
	case "createPolicyWithAccounts":
		id := f.counter
		f.counter++
		f.authorized[id] = make(map[common.Address]bool)
		for _, a := range args[2].([]common.Address) {
			f.authorized[id][a] = true
		}
		rcpt.Logs = []*types.Log{{
			Address: testRegistry,
			Topics: []common.Hash{
				RegistryABI.Events["PolicyCreated"].ID,
				common.BigToHash(new(big.Int).SetUint64(id)),
				common.BytesToHash(args[0].(common.Address).Bytes()),
			},
		}}
	case "mint":
		to := args[0].(common.Address)
		bal := f.balances[to]
		if bal == nil {
			bal = big.NewInt(0)
		}
		f.balances[to] = new(big.Int).Add(bal, args[1].(*big.Int))
	case "changeTransferPolicyId":
		f.tokenPolicy = args[0].(uint64)
	}
	f.receipts[tx.Hash()] = rcpt
	return nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.neverMine {
		return nil, ethereum.NotFound
	}
	if f.hidden[txHash] > 0 {
		f.hidden[txHash]--
		return nil, ethereum.NotFound
	}
	rcpt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return rcpt, nil
}

func newTestClient(t *testing.T, f *fakeChain, opts ...Option) *Client {
	signer, err := goether.NewSigner(testAdminKey)
	require.NoError(t, err)
	opts = append([]Option{WithPollInterval(time.Millisecond, 5*time.Millisecond), WithGasLimit(100000)}, opts...)
	return NewClient(f, signer, f.chainID, opts...)
}

var errBoom = errors.New("boom")

// rejectedErr is a JSON-RPC error response from the node.
type rejectedErr struct{ msg string }

func (e rejectedErr) Error() string  { return e.msg }
func (e rejectedErr) ErrorCode() int { return -32000 }
