package trustcoin

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/everFinance/goether"
	"github.com/everFinance/trustcoin/schema"
	"github.com/stretchr/testify/require"
)

func addrOf(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

type fakeScores struct {
	mu     sync.Mutex
	scores map[string]int64   // absent: no profile
	xp     map[string]float64 // absent: /user 404
	down   bool
	bulk   int
}

func newFakeScores() *fakeScores {
	return &fakeScores{scores: make(map[string]int64), xp: make(map[string]float64)}
}

func (f *fakeScores) set(addr string, score int64) {
	f.mu.Lock()
	f.scores[strings.ToLower(addr)] = score
	f.mu.Unlock()
}

func (f *fakeScores) setXP(addr string, xp float64) {
	f.mu.Lock()
	f.xp[strings.ToLower(addr)] = xp
	f.mu.Unlock()
}

func (f *fakeScores) GetScore(ctx context.Context, address string) (*schema.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("%w: connection refused", schema.ErrProviderUnavailable)
	}
	sc, ok := f.scores[strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	return &schema.Score{Address: strings.ToLower(address), Score: sc}, nil
}

func (f *fakeScores) GetScores(ctx context.Context, addresses []string) (map[string]*schema.Score, error) {
	f.mu.Lock()
	f.bulk++
	down := f.down
	f.mu.Unlock()
	if down {
		return nil, fmt.Errorf("%w: connection refused", schema.ErrProviderUnavailable)
	}
	res := make(map[string]*schema.Score, len(addresses))
	for _, a := range addresses {
		sc, _ := f.GetScore(ctx, a)
		res[a] = sc
	}
	return res, nil
}

func (f *fakeScores) GetUserData(ctx context.Context, address string) (*schema.UserData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("%w: connection refused", schema.ErrProviderUnavailable)
	}
	xp, ok := f.xp[strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	return &schema.UserData{Address: strings.ToLower(address), Score: f.scores[strings.ToLower(address)], XP: xp}, nil
}

func (f *fakeScores) CachedScore(ctx context.Context, address string) (*schema.Score, error) {
	return f.GetScore(ctx, address)
}

type wlIntent struct {
	addr    string
	allowed bool
}

type fakeWhitelist struct {
	mu         sync.Mutex
	policyId   uint64
	authorized map[string]bool
	intents    map[string]wlIntent
	readErr    map[string]error
	sendErr    map[string]error
	revert     map[string]bool
	timeout    map[string]bool
	writes     []wlIntent
	seq        int
}

func newFakeWhitelist(policyId uint64) *fakeWhitelist {
	return &fakeWhitelist{
		policyId:   policyId,
		authorized: make(map[string]bool),
		intents:    make(map[string]wlIntent),
		readErr:    make(map[string]error),
		sendErr:    make(map[string]error),
		revert:     make(map[string]bool),
		timeout:    make(map[string]bool),
	}
}

func (f *fakeWhitelist) PolicyId() uint64 {
	return f.policyId
}

func (f *fakeWhitelist) IsAuthorized(ctx context.Context, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[address]; err != nil {
		return false, err
	}
	return f.authorized[address], nil
}

func (f *fakeWhitelist) SetAuthorization(ctx context.Context, address string, allowed bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[address]; err != nil {
		return "", err
	}
	f.seq++
	hash := fmt.Sprintf("0x%064x", f.seq)
	f.intents[hash] = wlIntent{addr: address, allowed: allowed}
	f.writes = append(f.writes, wlIntent{addr: address, allowed: allowed})
	return hash, nil
}

func (f *fakeWhitelist) AwaitConfirmation(ctx context.Context, txHash string) (schema.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.intents[txHash]
	if f.revert[in.addr] {
		return schema.TxReverted, fmt.Errorf("%w: %s", schema.ErrTxReverted, txHash)
	}
	if f.timeout[in.addr] {
		return schema.TxTimeout, fmt.Errorf("%w: %s", schema.ErrTxTimeout, txHash)
	}
	f.authorized[in.addr] = in.allowed
	return schema.TxSuccess, nil
}

func (f *fakeWhitelist) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type mintIntent struct {
	addr   string
	amount *big.Int
}

type fakeToken struct {
	mu         sync.Mutex
	balances   map[string]*big.Int
	intents    map[string]mintIntent
	mined      map[string]schema.TxStatus
	mints      int
	seq        int
	revert     bool
	timeout    bool
	mintDelay  time.Duration
	mintErr    error // one-shot
	mintLost   bool  // mintErr comes with a hash, as after a dropped connection
	balanceErr error
	policyId   uint64
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		balances: make(map[string]*big.Int),
		intents:  make(map[string]mintIntent),
		mined:    make(map[string]schema.TxStatus),
	}
}

func (f *fakeToken) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if b, ok := f.balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeToken) Mint(ctx context.Context, address string, amount *big.Int) (string, error) {
	if f.mintDelay > 0 {
		time.Sleep(f.mintDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mintErr; err != nil {
		f.mintErr = nil
		if !f.mintLost {
			return "", err
		}
		f.mints++
		f.seq++
		hash := fmt.Sprintf("0x%064x", 1000+f.seq)
		f.intents[hash] = mintIntent{addr: address, amount: new(big.Int).Set(amount)}
		return hash, err
	}
	f.mints++
	f.seq++
	hash := fmt.Sprintf("0x%064x", 1000+f.seq)
	f.intents[hash] = mintIntent{addr: address, amount: new(big.Int).Set(amount)}
	return hash, nil
}

func (f *fakeToken) AwaitConfirmation(ctx context.Context, txHash string) (schema.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timeout {
		return schema.TxTimeout, fmt.Errorf("%w: %s", schema.ErrTxTimeout, txHash)
	}
	if f.revert {
		f.mined[txHash] = schema.TxReverted
		return schema.TxReverted, fmt.Errorf("%w: %s", schema.ErrTxReverted, txHash)
	}
	f.confirm(txHash)
	return schema.TxSuccess, nil
}

// confirm applies a mint; callers hold mu.
func (f *fakeToken) confirm(txHash string) {
	in := f.intents[txHash]
	bal := f.balances[in.addr]
	if bal == nil {
		bal = big.NewInt(0)
	}
	f.balances[in.addr] = new(big.Int).Add(bal, in.amount)
	f.mined[txHash] = schema.TxSuccess
}

// mineLater settles a mint that timed out earlier.
func (f *fakeToken) mineLater(txHash string, status schema.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == schema.TxSuccess {
		f.confirm(txHash)
		return
	}
	f.mined[txHash] = status
}

func (f *fakeToken) TxStatus(ctx context.Context, txHash string) (schema.TxStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.mined[txHash]
	if !ok {
		return schema.TxTimeout, false, nil
	}
	return st, true, nil
}

func (f *fakeToken) TransferPolicyId(ctx context.Context) (uint64, error) {
	return f.policyId, nil
}

func (f *fakeToken) mintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mints
}

type recordingPublisher struct {
	mu        sync.Mutex
	claims    []schema.ClaimEvent
	whitelist []schema.WhitelistEvent
}

func (p *recordingPublisher) PublishClaim(ev schema.ClaimEvent) {
	p.mu.Lock()
	p.claims = append(p.claims, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) PublishWhitelist(ev schema.WhitelistEvent) {
	p.mu.Lock()
	p.whitelist = append(p.whitelist, ev)
	p.mu.Unlock()
}

const (
	claimantKey = "4c3f9a1e5b234ce8f1ab58d82f849c0f70a4d5ceaf2b6e2d9a6c58b1f897ef0a"
	otherKey    = "6a34ee7f12e4d55f5ce0a78f7ed6cc8c1d2c0dd36f81a44d62fd1d0e4b44f1cc"
)

func newTestSigner(t *testing.T, key string) *goether.Signer {
	signer, err := goether.NewSigner(key)
	require.NoError(t, err)
	return signer
}

func signClaim(t *testing.T, signer *goether.Signer, address string, ts int64) string {
	sig, err := signer.SignMsg([]byte(schema.ClaimMessage(address, ts)))
	require.NoError(t, err)
	return hexutil.Encode(sig)
}
