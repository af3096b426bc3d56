package trustcoin

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/everFinance/trustcoin/schema"
)

const (
	defaultFreshnessWindow = 5 * time.Minute
)

// Gate proves address ownership for a claim request. It is the only authorization the
// claim endpoint has.
type Gate struct {
	window time.Duration
	now    func() time.Time
}

func NewGate(window time.Duration) *Gate {
	if window <= 0 {
		window = defaultFreshnessWindow
	}
	return &Gate{window: window, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) Window() time.Duration {
	return g.window
}

// Verify checks that signature is address's EIP-191 signature over schema.ClaimMessage(address, timestamp)
// and that timestamp is neither in the future nor older than the freshness window.
func (g *Gate) Verify(address, signature string, timestamp int64) error {
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return err
	}

	signedAt := time.UnixMilli(timestamp)
	now := g.now()
	if signedAt.After(now) {
		return fmt.Errorf("%w: timestamp %d is in the future", schema.ErrSignatureExpired, timestamp)
	}
	if now.Sub(signedAt) > g.window {
		return fmt.Errorf("%w: timestamp %d is older than %s", schema.ErrSignatureExpired, timestamp, g.window)
	}

	signer, err := recoverSigner(schema.ClaimMessage(addr, timestamp), signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer, addr) {
		return fmt.Errorf("%w: signed by %s", schema.ErrInvalidSignature, signer)
	}
	return nil
}

func recoverSigner(msg, signature string) (string, error) {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: malformed signature", schema.ErrInvalidSignature)
	}
	// wallets send v as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", fmt.Errorf("%w: bad recovery id", schema.ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schema.ErrInvalidSignature, err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
