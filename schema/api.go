package schema

type RespErr struct {
	Err     string  `json:"error"`
	Kind    string  `json:"kind,omitempty"`
	Outcome Outcome `json:"outcome,omitempty"`
}

func (r RespErr) Error() string {
	return r.Err
}

type RespInfo struct {
	ChainId       int64  `json:"chainId"`
	Token         string `json:"token"`
	Registry      string `json:"registry"`
	PolicyId      uint64 `json:"policyId"`
	TokenPolicyId uint64 `json:"tokenPolicyId"`
	Decimals      int32  `json:"decimals"`
	MinScore      int64  `json:"minScore"`
	ClaimUnit     string `json:"claimUnit"`
	Admin         string `json:"admin"`
}
