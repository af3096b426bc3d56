package schema

import "time"

type PolicyType uint8

const (
	PolicyWhitelist PolicyType = 0
	PolicyBlacklist PolicyType = 1
)

func (p PolicyType) String() string {
	switch p {
	case PolicyWhitelist:
		return "WHITELIST"
	case PolicyBlacklist:
		return "BLACKLIST"
	}
	return "UNKNOWN"
}

type WhitelistPolicy struct {
	PolicyId uint64     `json:"policyId"`
	Type     PolicyType `json:"type"`
	Admin    string     `json:"admin,omitempty"`
}

type TxStatus string

const (
	TxSuccess  TxStatus = "success"
	TxReverted TxStatus = "reverted"
	TxTimeout  TxStatus = "timeout"
)

// SyncResult is the outcome of one reconciliation run. It is not persisted.
type SyncResult struct {
	PolicyId   uint64            `json:"policyId"`
	Checked    int               `json:"checked"`
	Added      []string          `json:"added"`
	Removed    []string          `json:"removed"`
	Authorized []string          `json:"authorized"` // confirmed whitelisted after this run
	Unresolved []string          `json:"unresolved"` // mutation broadcast but confirmation timed out
	Scores     map[string]*int64 `json:"scores"`     // nil: no profile or unknown
	Errors     []string          `json:"errors"`
	Error      string            `json:"error,omitempty"` // top-level failure, nothing processed
	StartedAt  time.Time         `json:"startedAt"`
	Duration   time.Duration     `json:"duration"`
}

func NewSyncResult(policyId uint64) *SyncResult {
	return &SyncResult{
		PolicyId:   policyId,
		Added:      make([]string, 0),
		Removed:    make([]string, 0),
		Authorized: make([]string, 0),
		Unresolved: make([]string, 0),
		Scores:     make(map[string]*int64),
		Errors:     make([]string, 0),
		StartedAt:  time.Now(),
	}
}

type ReqSync struct {
	Addresses []string `json:"addresses"`
}

type ReqAddress struct {
	Address string `json:"address"`
}

type RespWhitelist struct {
	Address    string `json:"address"`
	PolicyId   uint64 `json:"policyId"`
	Authorized bool   `json:"authorized"`
}

type RespAddIfEligible struct {
	Address string   `json:"address"`
	Score   *int64   `json:"score"`
	Added   bool     `json:"added"` // false when already authorized
	TxHash  string   `json:"txHash,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Status  TxStatus `json:"status,omitempty"`
}
