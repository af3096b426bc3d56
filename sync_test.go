package trustcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/everFinance/trustcoin/eligibility"
	"github.com/everFinance/trustcoin/reputation"
	"github.com/everFinance/trustcoin/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler() (*Reconciler, *fakeScores, *fakeWhitelist, *recordingPublisher) {
	scores := newFakeScores()
	wl := newFakeWhitelist(7)
	pub := &recordingPublisher{}
	return NewReconciler(scores, wl, eligibility.Default(), 4, pub), scores, wl, pub
}

func TestSync_MixedOutcomes(t *testing.T) {
	r, scores, wl, pub := newTestReconciler()
	a, b, c := addrOf(0xa), addrOf(0xb), addrOf(0xc)
	scores.set(a, 1500)
	scores.set(b, 1000)
	scores.set(c, 1600)
	wl.authorized[c] = true

	res, err := r.Sync(context.Background(), []string{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, []string{a}, res.Added)
	assert.Empty(t, res.Removed)
	assert.ElementsMatch(t, []string{a, c}, res.Authorized)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(1000), *res.Scores[b])

	assert.Equal(t, []wlIntent{{addr: a, allowed: true}}, wl.writes)
	assert.False(t, wl.authorized[b])
	assert.Len(t, pub.whitelist, 1)
	assert.Equal(t, uint64(7), pub.whitelist[0].PolicyId)
}

func TestSync_Idempotent(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	addrs := make([]string, 0, 30)
	for i := 1; i <= 30; i++ {
		a := addrOf(i)
		addrs = append(addrs, a)
		scores.set(a, int64(1000+i*20)) // half above 1400
		if i%3 == 0 {
			wl.authorized[a] = true
		}
	}

	first, err := r.Sync(context.Background(), addrs)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Added)
	assert.NotEmpty(t, first.Removed)
	writes := wl.writeCount()

	second, err := r.Sync(context.Background(), addrs)
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.Empty(t, second.Removed)
	assert.Equal(t, writes, wl.writeCount())
	assert.ElementsMatch(t, append(first.Added, authorizedKept(first)...), second.Authorized)
}

// authorizedKept lists addresses that were already authorized and stayed.
func authorizedKept(res *schema.SyncResult) []string {
	added := make(map[string]bool)
	for _, a := range res.Added {
		added[a] = true
	}
	kept := make([]string, 0)
	for _, a := range res.Authorized {
		if !added[a] {
			kept = append(kept, a)
		}
	}
	return kept
}

func TestSync_RemovesIneligibleAndUnknownProfiles(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	d, e := addrOf(0xd), addrOf(0xe)
	scores.set(d, 900)
	wl.authorized[d] = true
	wl.authorized[e] = true // no profile at all

	res, err := r.Sync(context.Background(), []string{d, e})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{d, e}, res.Removed)
	assert.Empty(t, res.Authorized)
	assert.Nil(t, res.Scores[e])
}

func TestSync_ProviderOutage(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	scores.down = true
	wl.authorized[addrOf(3)] = true

	res, err := r.Sync(context.Background(), []string{addrOf(1), addrOf(2), addrOf(3)})
	assert.ErrorIs(t, err, schema.ErrProviderUnavailable)
	assert.Equal(t, 3, res.Checked)
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Removed)
	assert.Len(t, res.Errors, 1)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 0, wl.writeCount())
	// a previously eligible address is not touched
	assert.True(t, wl.authorized[addrOf(3)])
}

func TestSync_ProviderNotFoundKeepsWhitelist(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	wl := newFakeWhitelist(7)
	a, b := addrOf(0xa), addrOf(0xb)
	wl.authorized[a] = true
	wl.authorized[b] = true
	r := NewReconciler(reputation.New(srv.URL), wl, eligibility.Default(), 4, nil)

	res, err := r.Sync(context.Background(), []string{a, b})
	assert.ErrorIs(t, err, schema.ErrProviderUnavailable)
	assert.Empty(t, res.Removed)
	assert.Equal(t, 0, wl.writeCount())
	assert.True(t, wl.authorized[a])
	assert.True(t, wl.authorized[b])
}

// bulkScores answers /scores from known, failing the failAt-th request.
func bulkScores(known map[string]int64, failAt int32) http.Handler {
	var calls int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == failAt {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		req := struct {
			Addresses []string `json:"addresses"`
		}{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := map[string]interface{}{}
		for _, a := range req.Addresses {
			if sc, ok := known[a]; ok {
				data[a] = map[string]int64{"score": sc}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "data": data})
	})
}

func TestSync_FailedChunkLeavesAddressesUntouched(t *testing.T) {
	a, b, c, d := addrOf(0xa), addrOf(0xb), addrOf(0xc), addrOf(0xd)
	srv := httptest.NewServer(bulkScores(map[string]int64{a: 1500, c: 1500}, 2))
	defer srv.Close()
	wl := newFakeWhitelist(7)
	wl.authorized[b] = true
	wl.authorized[c] = true
	scores := reputation.New(srv.URL, reputation.WithBulkSize(2))
	r := NewReconciler(scores, wl, eligibility.Default(), 4, nil)

	res, err := r.Sync(context.Background(), []string{a, b, c, d})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, res.Added)
	assert.Equal(t, []string{b}, res.Removed)
	assert.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], c)
	assert.Contains(t, res.Errors[1], d)

	// only the first chunk produced writes
	assert.Equal(t, []wlIntent{{addr: a, allowed: true}, {addr: b, allowed: false}}, wl.writes)
	assert.True(t, wl.authorized[c])
	assert.False(t, wl.authorized[d])
}

func TestSync_PerAddressIsolation(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	a, b, c, d, e := addrOf(1), addrOf(2), addrOf(3), addrOf(4), addrOf(5)
	for _, x := range []string{a, b, c, d, e} {
		scores.set(x, 1500)
	}
	wl.readErr[a] = fmt.Errorf("%w: rpc down", schema.ErrChainRead)
	wl.revert[b] = true
	wl.timeout[c] = true
	wl.sendErr[d] = fmt.Errorf("%w: nonce too low", schema.ErrChainWrite)

	res, err := r.Sync(context.Background(), []string{a, b, c, d, e})
	require.NoError(t, err)
	assert.Equal(t, []string{e}, res.Added)
	assert.Equal(t, []string{c}, res.Unresolved)
	assert.Equal(t, []string{e}, res.Authorized)
	assert.Len(t, res.Errors, 4)
	for i, x := range []string{a, b, c, d} {
		assert.True(t, strings.HasPrefix(res.Errors[i], x), res.Errors[i])
	}
	// the failed read is never "corrected"
	for _, w := range wl.writes {
		assert.NotEqual(t, a, w.addr)
	}
}

func TestSync_ZeroPolicy(t *testing.T) {
	scores := newFakeScores()
	wl := newFakeWhitelist(0)
	scores.set(addrOf(1), 2000)
	r := NewReconciler(scores, wl, eligibility.Default(), 4, nil)

	res, err := r.Sync(context.Background(), []string{addrOf(1)})
	assert.ErrorIs(t, err, schema.ErrMisconfigured)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 0, scores.bulk)
	assert.Equal(t, 0, wl.writeCount())

	_, err = r.AddIfEligible(context.Background(), addrOf(1))
	assert.ErrorIs(t, err, schema.ErrMisconfigured)
}

func TestSync_CanonicalizesCandidates(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	a := "0xABCDEFabcdef0000000000000000000000000001"
	scores.set(a, 1500)

	res, err := r.Sync(context.Background(), []string{a, strings.ToLower(a), "0x" + strings.ToUpper(a[2:]), "not-an-address"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, []string{strings.ToLower(a)}, res.Added)
	assert.Len(t, res.Errors, 1)
	assert.True(t, wl.authorized[strings.ToLower(a)])
}

func TestSync_WithEligibilityMap(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	a, b := addrOf(1), addrOf(2)
	wl.authorized[b] = true

	res, err := r.SyncWithEligibility(context.Background(), []string{a, b}, map[string]bool{
		strings.ToUpper(a[2:]): false, // same address, another spelling
		a:                      true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, res.Added)
	assert.Equal(t, []string{b}, res.Removed)
	assert.Equal(t, 0, scores.bulk)
}

func TestAddIfEligible(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	ctx := context.Background()
	low, high, none := addrOf(1), addrOf(2), addrOf(3)
	scores.set(low, 1399)
	scores.set(high, 1400)

	resp, err := r.AddIfEligible(ctx, low)
	assert.ErrorIs(t, err, schema.ErrNotEligible)
	require.NotNil(t, resp)
	assert.Equal(t, int64(1399), *resp.Score)
	assert.False(t, resp.Added)

	_, err = r.AddIfEligible(ctx, none)
	assert.ErrorIs(t, err, schema.ErrProfileNotFound)

	resp, err = r.AddIfEligible(ctx, high)
	require.NoError(t, err)
	assert.True(t, resp.Added)
	assert.Equal(t, schema.OutcomeSuccess, resp.Outcome)
	assert.Equal(t, schema.TxSuccess, resp.Status)
	assert.True(t, wl.authorized[high])

	// second time is a no-op
	resp, err = r.AddIfEligible(ctx, high)
	require.NoError(t, err)
	assert.False(t, resp.Added)
	assert.Equal(t, 1, wl.writeCount())

	scores.down = true
	resp, err = r.AddIfEligible(ctx, addrOf(9))
	assert.ErrorIs(t, err, schema.ErrProviderUnavailable)
	assert.Equal(t, schema.OutcomePending, resp.Outcome)
}

func TestAddIfEligible_Timeout(t *testing.T) {
	r, scores, wl, _ := newTestReconciler()
	a := addrOf(1)
	scores.set(a, 1500)
	wl.timeout[a] = true

	resp, err := r.AddIfEligible(context.Background(), a)
	assert.ErrorIs(t, err, schema.ErrTxTimeout)
	assert.Equal(t, schema.OutcomePending, resp.Outcome)
	assert.Equal(t, schema.TxTimeout, resp.Status)
	assert.NotEmpty(t, resp.TxHash)
}
