package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceAllocator is the single sequencing authority for one signing account.
// It fetches the pending count once and then hands out nonces locally.
type NonceAllocator struct {
	source  NonceSource
	account common.Address

	mu     sync.Mutex
	next   uint64
	synced bool
}

func NewNonceAllocator(source NonceSource, account common.Address) *NonceAllocator {
	return &NonceAllocator{source: source, account: account}
}

func (n *NonceAllocator) Reserve(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.synced {
		nonce, err := n.source.PendingNonceAt(ctx, n.account)
		if err != nil {
			return 0, err
		}
		n.next = nonce
		n.synced = true
	}
	nonce := n.next
	n.next++
	metricNonce(n.account, n.next)
	return nonce, nil
}

// Release hands back a nonce whose transaction was never broadcast. Releasing anything
// but the latest reservation leaves a gap, so the allocator resyncs from the node instead.
func (n *NonceAllocator) Release(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.synced && nonce+1 == n.next {
		n.next = nonce
		return
	}
	n.synced = false
}

// Reset forces a resync on the next Reserve, e.g. after a "nonce too low" rejection.
func (n *NonceAllocator) Reset() {
	n.mu.Lock()
	n.synced = false
	n.mu.Unlock()
}
