package trustcoin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/everFinance/trustcoin/eligibility"
	"github.com/everFinance/trustcoin/schema"
	"github.com/panjf2000/ants/v2"
)

const defaultSyncConcurrency = 20

// Reconciler drives the on-chain whitelist of the active policy towards the set of
// addresses whose fresh score passes the eligibility policy. Each run recomputes the
// desired state from scratch, so re-running after a partial failure is safe.
type Reconciler struct {
	scores      ScoreProvider
	whitelist   WhitelistAdapter
	policy      eligibility.Policy
	concurrency int
	events      Publisher

	runLock sync.Mutex
}

func NewReconciler(scores ScoreProvider, whitelist WhitelistAdapter, policy eligibility.Policy, concurrency int, events Publisher) *Reconciler {
	if concurrency <= 0 {
		concurrency = defaultSyncConcurrency
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &Reconciler{
		scores:      scores,
		whitelist:   whitelist,
		policy:      policy,
		concurrency: concurrency,
		events:      events,
	}
}

// per-address working state of one run
type syncItem struct {
	addr     string
	desired  bool
	scoreErr error // eligibility unknown, left untouched
	current  bool
	readErr  error
	allowed  bool
	txHash   string
	status   schema.TxStatus
	writeErr error
}

// Sync reconciles addrs against fresh scores. The returned error is set only when the
// run could not start or the score fetch failed for every address; per-address
// failures, including addresses whose score could not be fetched, are reported in
// SyncResult.Errors and leave the address untouched on chain.
func (r *Reconciler) Sync(ctx context.Context, addrs []string) (*schema.SyncResult, error) {
	return r.SyncWithEligibility(ctx, addrs, nil)
}

// SyncWithEligibility uses a precomputed eligibility map instead of fetching scores.
// Addresses missing from eligible are treated as ineligible.
func (r *Reconciler) SyncWithEligibility(ctx context.Context, addrs []string, eligible map[string]bool) (*schema.SyncResult, error) {
	r.runLock.Lock()
	defer r.runLock.Unlock()

	policyId := r.whitelist.PolicyId()
	res := schema.NewSyncResult(policyId)
	defer func() {
		res.Duration = time.Since(res.StartedAt)
	}()

	if policyId == 0 {
		err := fmt.Errorf("%w: policy id is zero", schema.ErrMisconfigured)
		res.Error = err.Error()
		metricSync("misconfigured")
		return res, err
	}

	candidates, invalid := schema.NormalizeAddresses(addrs)
	for _, a := range invalid {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", a, schema.ErrInvalidAddress))
	}
	res.Checked = len(candidates)
	if len(candidates) == 0 {
		metricSync("empty")
		return res, nil
	}

	items := make([]*syncItem, len(candidates))
	for i, a := range candidates {
		items[i] = &syncItem{addr: a}
	}

	if eligible == nil {
		scores, err := r.scores.GetScores(ctx, candidates)
		if err != nil && scores == nil {
			err = fmt.Errorf("fetch scores: %w", err)
			res.Error = err.Error()
			res.Errors = append(res.Errors, err.Error())
			log.Error("r.scores.GetScores(candidates)", "err", err, "number", len(candidates))
			metricSync("provider_unavailable")
			return res, err
		}
		if err != nil {
			log.Warn("r.scores.GetScores(candidates)", "err", err, "number", len(candidates), "resolved", len(scores))
		}
		for _, it := range items {
			sc, ok := scores[it.addr]
			if !ok {
				it.scoreErr = fmt.Errorf("%w: score unknown", schema.ErrProviderUnavailable)
				continue
			}
			if sc == nil {
				res.Scores[it.addr] = nil
				continue
			}
			score := sc.Score
			res.Scores[it.addr] = &score
			it.desired = r.policy.IsEligible(score)
		}
	} else {
		norm := make(map[string]bool, len(eligible))
		for a, ok := range eligible {
			if na, err := schema.NormalizeAddress(a); err == nil {
				norm[na] = norm[na] || ok
			}
		}
		for _, it := range items {
			it.desired = norm[it.addr]
		}
	}

	if err := r.readAuthorizations(ctx, items); err != nil {
		res.Error = err.Error()
		metricSync("failed")
		return res, err
	}

	// submission is sequential: one admin signer, one nonce sequence
	pending := make([]*syncItem, 0)
	for _, it := range items {
		if it.scoreErr != nil || it.readErr != nil {
			continue
		}
		if it.desired == it.current {
			continue
		}
		it.allowed = it.desired
		hash, err := r.whitelist.SetAuthorization(ctx, it.addr, it.allowed)
		if err != nil {
			it.writeErr = err
			metricMutation(it.allowed, "send_failed")
			log.Error("r.whitelist.SetAuthorization(addr)", "err", err, "address", it.addr, "allowed", it.allowed, "policyId", policyId)
			continue
		}
		it.txHash = hash
		pending = append(pending, it)
	}

	if err := r.awaitConfirmations(ctx, pending); err != nil {
		res.Error = err.Error()
		metricSync("failed")
		return res, err
	}

	for _, it := range items {
		r.collect(res, it)
	}
	metricSync("success")
	log.Info("whitelist sync done", "policyId", policyId, "checked", res.Checked, "added", len(res.Added),
		"removed", len(res.Removed), "unresolved", len(res.Unresolved), "errors", len(res.Errors))
	return res, nil
}

func (r *Reconciler) readAuthorizations(ctx context.Context, items []*syncItem) error {
	var wg sync.WaitGroup
	p, err := ants.NewPoolWithFunc(r.concurrency, func(i interface{}) {
		defer wg.Done()
		it := i.(*syncItem)
		it.current, it.readErr = r.whitelist.IsAuthorized(ctx, it.addr)
		if it.readErr != nil {
			log.Warn("r.whitelist.IsAuthorized(addr)", "err", it.readErr, "address", it.addr)
		}
	})
	if err != nil {
		return err
	}
	defer p.Release()

	for _, it := range items {
		if it.scoreErr != nil {
			continue
		}
		wg.Add(1)
		if err := p.Invoke(it); err != nil {
			wg.Done()
			it.readErr = err
		}
	}
	wg.Wait()
	return nil
}

func (r *Reconciler) awaitConfirmations(ctx context.Context, items []*syncItem) error {
	if len(items) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	p, err := ants.NewPoolWithFunc(r.concurrency, func(i interface{}) {
		defer wg.Done()
		it := i.(*syncItem)
		it.status, it.writeErr = r.whitelist.AwaitConfirmation(ctx, it.txHash)
		metricMutation(it.allowed, string(it.status))
		if it.status == schema.TxSuccess {
			r.events.PublishWhitelist(schema.WhitelistEvent{
				Address:   it.addr,
				PolicyId:  r.whitelist.PolicyId(),
				Allowed:   it.allowed,
				TxHash:    it.txHash,
				Timestamp: time.Now().Unix(),
			})
		}
	})
	if err != nil {
		return err
	}
	defer p.Release()

	for _, it := range items {
		wg.Add(1)
		if err := p.Invoke(it); err != nil {
			wg.Done()
			it.status, it.writeErr = schema.TxTimeout, err
		}
	}
	wg.Wait()
	return nil
}

func (r *Reconciler) collect(res *schema.SyncResult, it *syncItem) {
	switch {
	case it.scoreErr != nil:
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", it.addr, it.scoreErr))
	case it.readErr != nil:
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", it.addr, it.readErr))
	case it.desired == it.current:
		if it.current {
			res.Authorized = append(res.Authorized, it.addr)
		}
	case it.txHash == "":
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", it.addr, it.writeErr))
		if it.current {
			// removal never sent, still on the list
			res.Authorized = append(res.Authorized, it.addr)
		}
	case it.status == schema.TxSuccess:
		if it.allowed {
			res.Added = append(res.Added, it.addr)
			res.Authorized = append(res.Authorized, it.addr)
		} else {
			res.Removed = append(res.Removed, it.addr)
		}
	case it.status == schema.TxTimeout || errors.Is(it.writeErr, schema.ErrTxTimeout):
		res.Unresolved = append(res.Unresolved, it.addr)
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", it.addr, it.writeErr))
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", it.addr, it.writeErr))
		if it.current {
			res.Authorized = append(res.Authorized, it.addr)
		}
	}
}

// AddIfEligible is the single-address form of Sync that only ever adds. On rejection
// the response still carries the score so callers can explain why.
func (r *Reconciler) AddIfEligible(ctx context.Context, address string) (*schema.RespAddIfEligible, error) {
	policyId := r.whitelist.PolicyId()
	if policyId == 0 {
		return nil, fmt.Errorf("%w: policy id is zero", schema.ErrMisconfigured)
	}
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	resp := &schema.RespAddIfEligible{Address: addr, Outcome: schema.OutcomeFailed}

	sc, err := r.scores.GetScore(ctx, addr)
	if err != nil {
		resp.Outcome = schema.OutcomePending
		return resp, err
	}
	if sc == nil {
		return resp, fmt.Errorf("%w: %s", schema.ErrProfileNotFound, addr)
	}
	score := sc.Score
	resp.Score = &score
	if !r.policy.IsEligible(score) {
		return resp, fmt.Errorf("%w: score %d is below %d", schema.ErrNotEligible, score, r.policy.MinScore)
	}

	ok, err := r.whitelist.IsAuthorized(ctx, addr)
	if err != nil {
		resp.Outcome = schema.OutcomePending
		return resp, err
	}
	if ok {
		resp.Outcome = schema.OutcomeSuccess
		return resp, nil
	}

	hash, err := r.whitelist.SetAuthorization(ctx, addr, true)
	if err != nil {
		metricMutation(true, "send_failed")
		resp.TxHash = hash
		resp.Outcome, _ = schema.ClassifyErr(err)
		return resp, err
	}
	resp.TxHash = hash
	resp.Status, err = r.whitelist.AwaitConfirmation(ctx, hash)
	metricMutation(true, string(resp.Status))
	resp.Outcome, _ = schema.ClassifyErr(err)
	if err != nil {
		return resp, err
	}
	resp.Added = true
	r.events.PublishWhitelist(schema.WhitelistEvent{
		Address:   addr,
		PolicyId:  policyId,
		Allowed:   true,
		TxHash:    hash,
		Timestamp: time.Now().Unix(),
	})
	log.Info("address added to whitelist", "address", addr, "score", score, "txHash", hash, "policyId", policyId)
	return resp, nil
}
