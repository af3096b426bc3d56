package trustcoin

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/everFinance/trustcoin/rawdb"
	"github.com/everFinance/trustcoin/schema"
)

// Store keeps candidate seeds and, with the bolt ledger backend, the claim ledger.
type Store struct {
	KVDb rawdb.KeyValueDB
}

func NewBoltStore(boltDirPath string) (*Store, error) {
	Db, err := rawdb.NewBoltDB(boltDirPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		KVDb: Db,
	}, nil
}

func (s *Store) Close() error {
	return s.KVDb.Close()
}

// SaveCandidates adds addrs to the seed set and returns how many were new.
func (s *Store) SaveCandidates(addrs []string) (added int, invalid []string, err error) {
	norm, invalid := schema.NormalizeAddresses(addrs)
	now := []byte(time.Now().UTC().Format(time.RFC3339))
	for _, a := range norm {
		ok, err := s.KVDb.PutIfAbsent(schema.CandidateBucket, a, now)
		if err != nil {
			return added, invalid, err
		}
		if ok {
			added++
		}
	}
	return added, invalid, nil
}

func (s *Store) LoadCandidates() ([]string, error) {
	keys, err := s.KVDb.GetAllKey(schema.CandidateBucket)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) DelCandidate(addr string) error {
	a, err := schema.NormalizeAddress(addr)
	if err != nil {
		return err
	}
	return s.KVDb.Delete(schema.CandidateBucket, a)
}

// claimEntry is the bolt encoding of a ledger row.
type claimEntry struct {
	Address   string    `json:"address"`
	Amount    string    `json:"amount"`
	XP        float64   `json:"xp"`
	TxHash    string    `json:"txHash"`
	Status    string    `json:"status"`
	ClaimedAt time.Time `json:"claimedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toEntry(rec *schema.ClaimRecord) claimEntry {
	return claimEntry{
		Address:   rec.Address,
		Amount:    rec.Amount,
		XP:        rec.XP,
		TxHash:    rec.TxHash,
		Status:    rec.Status,
		ClaimedAt: rec.ClaimedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func (e claimEntry) record() *schema.ClaimRecord {
	return &schema.ClaimRecord{
		Address:   e.Address,
		Amount:    e.Amount,
		XP:        e.XP,
		TxHash:    e.TxHash,
		Status:    e.Status,
		ClaimedAt: e.ClaimedAt,
		CreatedAt: e.UpdatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func (s *Store) ReserveClaim(rec *schema.ClaimRecord) (bool, error) {
	rec.UpdatedAt = time.Now()
	by, err := json.Marshal(toEntry(rec))
	if err != nil {
		return false, err
	}
	return s.KVDb.PutIfAbsent(schema.ClaimBucket, rec.Address, by)
}

func (s *Store) AttachClaimTx(addr, txHash string) error {
	return s.updatePending(addr, func(e *claimEntry) {
		e.TxHash = txHash
	})
}

func (s *Store) CommitClaim(addr string, claimedAt time.Time) (*schema.ClaimRecord, error) {
	var rec *schema.ClaimRecord
	err := s.updatePending(addr, func(e *claimEntry) {
		e.Status = schema.ClaimDone
		e.ClaimedAt = claimedAt
		rec = e.record()
	})
	return rec, err
}

func (s *Store) ReleaseClaim(addr string) error {
	return s.KVDb.Update(schema.ClaimBucket, addr, func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, schema.ErrNotExist
		}
		e := claimEntry{}
		if err := json.Unmarshal(old, &e); err != nil {
			return nil, err
		}
		if e.Status != schema.ClaimPending {
			return nil, schema.ErrAlreadyClaimed
		}
		return nil, nil
	})
}

func (s *Store) updatePending(addr string, fn func(e *claimEntry)) error {
	return s.KVDb.Update(schema.ClaimBucket, addr, func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, schema.ErrNotExist
		}
		e := claimEntry{}
		if err := json.Unmarshal(old, &e); err != nil {
			return nil, err
		}
		if e.Status != schema.ClaimPending {
			return nil, schema.ErrAlreadyClaimed
		}
		fn(&e)
		e.UpdatedAt = time.Now()
		return json.Marshal(e)
	})
}

func (s *Store) GetClaim(addr string) (*schema.ClaimRecord, error) {
	by, err := s.KVDb.Get(schema.ClaimBucket, addr)
	if err != nil {
		return nil, err
	}
	e := claimEntry{}
	if err := json.Unmarshal(by, &e); err != nil {
		return nil, err
	}
	return e.record(), nil
}

func (s *Store) ListClaims(status string) ([]schema.ClaimRecord, error) {
	kvs, err := s.KVDb.GetAll(schema.ClaimBucket)
	if err != nil {
		return nil, err
	}
	res := make([]schema.ClaimRecord, 0, len(kvs))
	for k, v := range kvs {
		e := claimEntry{}
		if err := json.Unmarshal(v, &e); err != nil {
			log.Error("json.Unmarshal(claim)", "err", err, "address", k)
			continue
		}
		if e.Status != status {
			continue
		}
		res = append(res, *e.record())
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ClaimedAt.Equal(res[j].ClaimedAt) {
			return res[i].Address < res[j].Address
		}
		return res[i].ClaimedAt.Before(res[j].ClaimedAt)
	})
	return res, nil
}

func (s *Store) SaveClaim(rec *schema.ClaimRecord) error {
	rec.UpdatedAt = time.Now()
	by, err := json.Marshal(toEntry(rec))
	if err != nil {
		return err
	}
	return s.KVDb.Put(schema.ClaimBucket, rec.Address, by)
}
