package trustcoin

import (
	"context"
	"testing"

	"github.com/everFinance/trustcoin/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncWhitelistJob(t *testing.T) {
	f := newAPIFixture(t)
	// no candidates: nothing runs
	f.srv.syncWhitelistJob()
	assert.Nil(t, f.srv.LastSync())

	_, _, err := f.srv.Store().SaveCandidates([]string{addrOf(1), addrOf(2)})
	require.NoError(t, err)
	f.scores.set(addrOf(1), 1600)
	f.scores.set(addrOf(2), 900)
	f.wl.authorized[addrOf(2)] = true

	f.srv.syncWhitelistJob()
	res := f.srv.LastSync()
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, []string{addrOf(1)}, res.Authorized)
	assert.False(t, f.wl.authorized[addrOf(2)])
}

func TestCandidatesIncludeClaimants(t *testing.T) {
	f := newAPIFixture(t)
	_, _, err := f.srv.Store().SaveCandidates([]string{addrOf(3)})
	require.NoError(t, err)
	f.scores.setXP(f.addr, 2)
	_, err = f.srv.Ledger().Claim(context.Background(), f.claimReq(t))
	require.NoError(t, err)

	addrs, err := f.srv.Candidates()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{addrOf(3), f.addr}, addrs)
}

func TestResolvePendingMintsJob(t *testing.T) {
	f := newAPIFixture(t)
	f.scores.setXP(f.addr, 2)
	f.token.timeout = true
	resp, err := f.srv.Ledger().Claim(context.Background(), f.claimReq(t))
	require.ErrorIs(t, err, schema.ErrTxTimeout)

	f.srv.resolvePendingMints()
	_, err = f.srv.Ledger().GetClaim(f.addr)
	assert.ErrorIs(t, err, schema.ErrNotExist)

	f.token.mineLater(resp.TxHash, schema.TxSuccess)
	f.srv.resolvePendingMints()
	rec, err := f.srv.Ledger().GetClaim(f.addr)
	require.NoError(t, err)
	assert.Equal(t, resp.TxHash, rec.TxHash)
}
