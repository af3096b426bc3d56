package schema

type ClaimEvent struct {
	Address   string  `json:"address"`
	Amount    string  `json:"amount"`
	XP        float64 `json:"xp"`
	TxHash    string  `json:"txHash"`
	Timestamp int64   `json:"timestamp"`
}

type WhitelistEvent struct {
	Address   string `json:"address"`
	PolicyId  uint64 `json:"policyId"`
	Allowed   bool   `json:"allowed"`
	TxHash    string `json:"txHash"`
	Timestamp int64  `json:"timestamp"`
}
