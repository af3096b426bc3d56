package trustcoin

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/everFinance/trustcoin/eligibility"
	"github.com/everFinance/trustcoin/schema"
)

// a pending reservation without a tx hash is released after this long, if the address holds no tokens
const unsentReservationTTL = 10 * time.Minute

// ClaimStore persists one ClaimRecord per address. ReserveClaim must be an atomic
// conditional insert: it reports false when any row (pending or claimed) exists.
type ClaimStore interface {
	ReserveClaim(rec *schema.ClaimRecord) (bool, error)
	AttachClaimTx(addr, txHash string) error
	CommitClaim(addr string, claimedAt time.Time) (*schema.ClaimRecord, error)
	ReleaseClaim(addr string) error
	GetClaim(addr string) (*schema.ClaimRecord, error)
	ListClaims(status string) ([]schema.ClaimRecord, error)
	SaveClaim(rec *schema.ClaimRecord) error
	Close() error
}

type ClaimLedger struct {
	store    ClaimStore
	token    TokenAdapter
	scores   ScoreProvider
	policy   eligibility.Policy
	gate     *Gate
	policyId uint64
	events   Publisher

	addrLocks sync.Map // address -> *sync.Mutex
}

func NewClaimLedger(store ClaimStore, token TokenAdapter, scores ScoreProvider, policy eligibility.Policy,
	gate *Gate, policyId uint64, events Publisher) *ClaimLedger {
	if events == nil {
		events = nopPublisher{}
	}
	return &ClaimLedger{
		store:    store,
		token:    token,
		scores:   scores,
		policy:   policy,
		gate:     gate,
		policyId: policyId,
		events:   events,
	}
}

func (l *ClaimLedger) lock(addr string) func() {
	m, _ := l.addrLocks.LoadOrStore(addr, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CheckClaimable reports whether address may claim and how much. Definitive refusals
// (no profile, no XP) come back in the status with a non-nil error of that kind;
// provider or chain failures return a nil status.
func (l *ClaimLedger) CheckClaimable(ctx context.Context, address string) (*schema.ClaimStatus, error) {
	if l.policyId == 0 {
		return nil, fmt.Errorf("%w: policy id is zero", schema.ErrMisconfigured)
	}
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	st := &schema.ClaimStatus{Address: addr, Amount: "0"}

	rec, err := l.store.GetClaim(addr)
	if err != nil && !errors.Is(err, schema.ErrNotExist) {
		return nil, err
	}
	if rec != nil && rec.Status == schema.ClaimPending {
		rec, err = l.resolvePending(ctx, rec)
		if err != nil {
			return nil, err
		}
	}

	bal, err := l.token.BalanceOf(ctx, addr)
	if err != nil {
		return nil, err
	}
	if bal.Sign() > 0 {
		// tokens on the address are taken as a past claim, even without a local record
		st.AlreadyClaimed = true
		if rec != nil && rec.Status == schema.ClaimDone {
			st.Claim = rec
			st.Amount = rec.Amount
			st.XP = rec.XP
		}
		return st, nil
	}
	if rec != nil {
		if rec.Status == schema.ClaimPending {
			st.Pending = true
			st.Amount = rec.Amount
			st.XP = rec.XP
			st.Claim = rec
			return st, nil
		}
		st.AlreadyClaimed = true
		st.Claim = rec
		st.Amount = rec.Amount
		st.XP = rec.XP
		return st, nil
	}

	ud, err := l.scores.GetUserData(ctx, addr)
	if err != nil {
		return nil, err
	}
	if ud != nil && eligibility.ValidXP(ud.XP) {
		if amount := l.policy.ClaimAmount(ud.XP); amount.Sign() > 0 {
			st.CanClaim = true
			st.XP = ud.XP
			st.Amount = amount.String()
			return st, nil
		}
	}

	if ud == nil {
		sc, err := l.scores.GetScore(ctx, addr)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			return st.WithErr(fmt.Errorf("%w: %s", schema.ErrProfileNotFound, addr))
		}
	} else {
		st.XP = ud.XP
	}
	return st.WithErr(fmt.Errorf("%w: %s", schema.ErrNoXP, addr))
}

// Claim verifies the signed request, reserves the address, mints and records the claim.
// The ledger row only becomes a claim once the mint receipt is successful; a revert
// releases the reservation and a confirmation timeout leaves it pending for recheck.
func (l *ClaimLedger) Claim(ctx context.Context, req schema.ReqClaim) (*schema.RespClaim, error) {
	if l.policyId == 0 {
		return nil, fmt.Errorf("%w: policy id is zero", schema.ErrMisconfigured)
	}
	if err := l.gate.Verify(req.Address, req.Signature, req.Timestamp); err != nil {
		metricClaim("bad_signature")
		return nil, err
	}
	addr, _ := schema.NormalizeAddress(req.Address)
	resp := &schema.RespClaim{Address: addr, Outcome: schema.OutcomeFailed}

	unlock := l.lock(addr)
	defer unlock()

	st, err := l.CheckClaimable(ctx, addr)
	switch {
	case err != nil && st == nil:
		resp.Outcome, resp.Kind = schema.ClassifyErr(err)
		return resp, err
	case st.AlreadyClaimed:
		metricClaim("already_claimed")
		resp.Claim = st.Claim
		resp.Amount = st.Amount
		if st.Claim != nil {
			resp.TxHash = st.Claim.TxHash
		}
		return resp, fmt.Errorf("%w: %s", schema.ErrAlreadyClaimed, addr)
	case st.Pending:
		resp.Outcome = schema.OutcomePending
		resp.Claim = st.Claim
		if st.Claim != nil {
			resp.TxHash = st.Claim.TxHash
		}
		return resp, fmt.Errorf("%w: %s", schema.ErrClaimInFlight, addr)
	case err != nil:
		metricClaim("not_eligible")
		return resp, err
	}

	amount, _ := new(big.Int).SetString(st.Amount, 10)
	rec := &schema.ClaimRecord{
		Address: addr,
		Amount:  st.Amount,
		XP:      st.XP,
		Status:  schema.ClaimPending,
	}
	ok, err := l.store.ReserveClaim(rec)
	if err != nil {
		log.Error("l.store.ReserveClaim(rec)", "err", err, "address", addr)
		resp.Outcome = schema.OutcomePending
		return resp, err
	}
	if !ok {
		// another process holds the row
		existing, err := l.store.GetClaim(addr)
		if err == nil && existing.Status == schema.ClaimDone {
			metricClaim("already_claimed")
			resp.Claim = existing
			resp.Amount = existing.Amount
			resp.TxHash = existing.TxHash
			return resp, fmt.Errorf("%w: %s", schema.ErrAlreadyClaimed, addr)
		}
		resp.Outcome = schema.OutcomePending
		return resp, fmt.Errorf("%w: %s", schema.ErrClaimInFlight, addr)
	}

	// the mint outlives the request: an abandoned call must still get recorded
	mintCtx := context.WithoutCancel(ctx)
	txHash, err := l.token.Mint(mintCtx, addr, amount)
	if err != nil {
		log.Error("l.token.Mint(addr,amount)", "err", err, "address", addr, "amount", st.Amount, "txHash", txHash)
		resp.Outcome, resp.Kind = schema.ClassifyErr(err)
		if mintNotSent(err) {
			if rerr := l.store.ReleaseClaim(addr); rerr != nil {
				log.Error("l.store.ReleaseClaim(addr)", "err", rerr, "address", addr)
			}
			metricClaim("mint_failed")
			return resp, err
		}
		// the node may have the tx; the reservation stays until chain state settles it
		if txHash != "" {
			if aerr := l.store.AttachClaimTx(addr, txHash); aerr != nil {
				log.Error("l.store.AttachClaimTx(addr,txHash)", "err", aerr, "address", addr, "txHash", txHash)
			}
		}
		metricClaim("mint_unknown")
		resp.TxHash = txHash
		resp.Amount = st.Amount
		resp.Outcome = schema.OutcomePending
		return resp, err
	}
	resp.TxHash = txHash
	resp.Amount = st.Amount
	if err := l.store.AttachClaimTx(addr, txHash); err != nil {
		log.Error("l.store.AttachClaimTx(addr,txHash)", "err", err, "address", addr, "txHash", txHash)
	}
	log.Info("claim mint sent", "address", addr, "amount", st.Amount, "txHash", txHash)

	status, err := l.token.AwaitConfirmation(mintCtx, txHash)
	switch status {
	case schema.TxSuccess:
		rec, err := l.commit(addr, txHash)
		if err != nil {
			// minted but not recorded; the balance check and the pending job cover it
			log.Error("l.commit(addr)", "err", err, "address", addr, "txHash", txHash)
			resp.Outcome = schema.OutcomePending
			return resp, err
		}
		metricClaim("success")
		resp.Outcome = schema.OutcomeSuccess
		resp.Claim = rec
		return resp, nil
	case schema.TxReverted:
		if rerr := l.store.ReleaseClaim(addr); rerr != nil {
			log.Error("l.store.ReleaseClaim(addr)", "err", rerr, "address", addr)
		}
		metricClaim("reverted")
		resp.Kind = schema.ErrTxReverted.Error()
		return resp, err
	default:
		metricClaim("unconfirmed")
		log.Warn("claim mint unconfirmed, left pending", "address", addr, "txHash", txHash, "err", err)
		resp.Outcome = schema.OutcomePending
		if err == nil {
			err = fmt.Errorf("%w: %s", schema.ErrTxTimeout, txHash)
		}
		resp.Kind = schema.ErrTxTimeout.Error()
		return resp, err
	}
}

// mintNotSent reports whether a Mint error guarantees nothing reached the chain.
func mintNotSent(err error) bool {
	return errors.Is(err, schema.ErrTxNotSent) || errors.Is(err, schema.ErrMisconfigured) ||
		errors.Is(err, schema.ErrInvalidAddress)
}

func (l *ClaimLedger) commit(addr, txHash string) (*schema.ClaimRecord, error) {
	rec, err := l.store.CommitClaim(addr, time.Now().UTC())
	if err != nil {
		// a status query may have committed it first
		if cur, gerr := l.store.GetClaim(addr); gerr == nil && cur.Status == schema.ClaimDone {
			return cur, nil
		}
		return nil, err
	}
	l.events.PublishClaim(schema.ClaimEvent{
		Address:   addr,
		Amount:    rec.Amount,
		XP:        rec.XP,
		TxHash:    txHash,
		Timestamp: rec.ClaimedAt.Unix(),
	})
	log.Info("claim recorded", "address", addr, "amount", rec.Amount, "txHash", txHash)
	return rec, nil
}

// resolvePending settles a reservation from chain state. It returns the record as it
// stands afterwards, nil when the reservation was released.
func (l *ClaimLedger) resolvePending(ctx context.Context, rec *schema.ClaimRecord) (*schema.ClaimRecord, error) {
	if rec.TxHash == "" {
		if time.Since(rec.UpdatedAt) < unsentReservationTTL {
			return rec, nil
		}
		bal, err := l.token.BalanceOf(ctx, rec.Address)
		if err != nil {
			return nil, err
		}
		if bal.Sign() > 0 {
			return rec, nil
		}
		if err := l.store.ReleaseClaim(rec.Address); err != nil && !errors.Is(err, schema.ErrNotExist) {
			return nil, err
		}
		log.Warn("released stale claim reservation", "address", rec.Address)
		return nil, nil
	}

	status, mined, err := l.token.TxStatus(ctx, rec.TxHash)
	if err != nil {
		return nil, err
	}
	if !mined {
		return rec, nil
	}
	if status == schema.TxSuccess {
		return l.commit(rec.Address, rec.TxHash)
	}
	if err := l.store.ReleaseClaim(rec.Address); err != nil && !errors.Is(err, schema.ErrNotExist) {
		return nil, err
	}
	log.Warn("claim mint reverted, reservation released", "address", rec.Address, "txHash", rec.TxHash)
	return nil, nil
}

// ResolvePendingMints rechecks every pending reservation against the chain.
func (l *ClaimLedger) ResolvePendingMints(ctx context.Context) (resolved int, err error) {
	recs, err := l.store.ListClaims(schema.ClaimPending)
	if err != nil {
		return 0, err
	}
	left := 0
	for i := range recs {
		mu, _ := l.addrLocks.LoadOrStore(recs[i].Address, &sync.Mutex{})
		if !mu.(*sync.Mutex).TryLock() {
			// a claim for this address is running here
			left++
			continue
		}
		rec, err := l.resolvePending(ctx, &recs[i])
		mu.(*sync.Mutex).Unlock()
		if err != nil {
			log.Error("l.resolvePending(rec)", "err", err, "address", recs[i].Address)
			left++
			continue
		}
		if rec != nil && rec.Status == schema.ClaimPending {
			left++
			continue
		}
		resolved++
	}
	metricPendingMints(left)
	return resolved, nil
}

// RecordClaim writes a completed claim directly, e.g. to backfill a mint made outside the service.
func (l *ClaimLedger) RecordClaim(address string, amount *big.Int, xp float64, txHash string) (*schema.ClaimRecord, error) {
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, errors.New("amount must be non-negative")
	}
	rec := &schema.ClaimRecord{
		Address:   addr,
		Amount:    amount.String(),
		XP:        xp,
		TxHash:    txHash,
		Status:    schema.ClaimDone,
		ClaimedAt: time.Now().UTC(),
	}
	if err := l.store.SaveClaim(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *ClaimLedger) GetAllClaims() ([]schema.ClaimRecord, error) {
	return l.store.ListClaims(schema.ClaimDone)
}

func (l *ClaimLedger) GetClaim(address string) (*schema.ClaimRecord, error) {
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	rec, err := l.store.GetClaim(addr)
	if err != nil {
		return nil, err
	}
	if rec.Status != schema.ClaimDone {
		return nil, schema.ErrNotExist
	}
	return rec, nil
}

func (l *ClaimLedger) GetTotalClaimed() (*schema.RespClaimTotal, error) {
	recs, err := l.GetAllClaims()
	if err != nil {
		return nil, err
	}
	amounts := make([]string, 0, len(recs))
	for _, r := range recs {
		amounts = append(amounts, r.Amount)
	}
	total, err := eligibility.SumAmounts(amounts)
	if err != nil {
		return nil, err
	}
	return &schema.RespClaimTotal{Count: len(recs), Amount: total.String()}, nil
}
