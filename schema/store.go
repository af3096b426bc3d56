package schema

var (
	// bucket
	CandidateBucket = "candidate-bucket" // key: address, val: added unix seconds
	ClaimBucket     = "claim-bucket"     // key: address, val: json(ClaimRecord)
)
