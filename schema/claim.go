package schema

import (
	"fmt"
	"strings"
	"time"
)

const (
	ClaimPending = "pending" // reserved, mint broadcast or about to be
	ClaimDone    = "claimed"
)

const claimMessageTemplate = "Claim trustcoin for address %s at timestamp %d"

// ClaimMessage is the exact personal_sign plaintext a claimant signs. timestamp is unix millis.
func ClaimMessage(address string, timestamp int64) string {
	return fmt.Sprintf(claimMessageTemplate, strings.ToLower(address), timestamp)
}

// ClaimRecord is the single ledger row per address. Amount is the decimal string of minor units.
type ClaimRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	Address   string    `gorm:"index:idxClaim0,unique;size:42" json:"address"`
	Amount    string    `json:"amount"`
	XP        float64   `json:"xpAtClaim"`
	TxHash    string    `gorm:"size:66" json:"txHash"`
	Status    string    `gorm:"index:idxClaim1;size:16" json:"status"`
	ClaimedAt time.Time `json:"claimedAt"`
}

type ClaimStatus struct {
	Address        string       `json:"address"`
	CanClaim       bool         `json:"canClaim"`
	Amount         string       `json:"amount"`
	XP             float64      `json:"xp"`
	AlreadyClaimed bool         `json:"alreadyClaimed"`
	Pending        bool         `json:"pending"`
	Claim          *ClaimRecord `json:"claim,omitempty"`
	Error          string       `json:"error,omitempty"`
	Kind           string       `json:"kind,omitempty"`
}

// WithErr records a definitive refusal on the status and passes err through.
func (s *ClaimStatus) WithErr(err error) (*ClaimStatus, error) {
	_, s.Kind = ClassifyErr(err)
	s.Error = err.Error()
	return s, err
}

type ReqClaim struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

type RespClaim struct {
	Outcome Outcome      `json:"outcome"`
	Address string       `json:"address"`
	TxHash  string       `json:"txHash,omitempty"`
	Amount  string       `json:"amount,omitempty"`
	Claim   *ClaimRecord `json:"claim,omitempty"`
	Error   string       `json:"error,omitempty"`
	Kind    string       `json:"kind,omitempty"`
}

type RespClaimTotal struct {
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}
