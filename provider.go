package trustcoin

import (
	"context"
	"math/big"

	"github.com/everFinance/trustcoin/schema"
)

// ScoreProvider is the reputation API as the reconciler and ledger see it.
// A nil result with a nil error means the provider has no profile for the address.
type ScoreProvider interface {
	GetScore(ctx context.Context, address string) (*schema.Score, error)
	GetScores(ctx context.Context, addresses []string) (map[string]*schema.Score, error)
	GetUserData(ctx context.Context, address string) (*schema.UserData, error)
}

// ScoreReader adds the cached lookup used by presentation endpoints.
type ScoreReader interface {
	ScoreProvider
	CachedScore(ctx context.Context, address string) (*schema.Score, error)
}

type WhitelistAdapter interface {
	PolicyId() uint64
	IsAuthorized(ctx context.Context, address string) (bool, error)
	SetAuthorization(ctx context.Context, address string, allowed bool) (txHash string, err error)
	AwaitConfirmation(ctx context.Context, txHash string) (schema.TxStatus, error)
}

type TokenAdapter interface {
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
	Mint(ctx context.Context, address string, amount *big.Int) (txHash string, err error)
	AwaitConfirmation(ctx context.Context, txHash string) (schema.TxStatus, error)
	TxStatus(ctx context.Context, txHash string) (status schema.TxStatus, mined bool, err error)
	TransferPolicyId(ctx context.Context) (uint64, error)
}
