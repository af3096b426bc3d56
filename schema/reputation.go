package schema

import (
	"encoding/json"
	"time"
)

// Score is the /score payload of the reputation provider.
type Score struct {
	Address string          `json:"address"`
	Score   int64           `json:"score"`
	Reviews json.RawMessage `json:"reviews,omitempty"`
	Vouches json.RawMessage `json:"vouches,omitempty"`
}

// UserData is the /user/{address} payload.
type UserData struct {
	Address     string          `json:"address"`
	Score       int64           `json:"score"`
	XP          float64         `json:"xpTotal"`
	ReviewStats json.RawMessage `json:"reviewStats,omitempty"`
	VouchStats  json.RawMessage `json:"vouchStats,omitempty"`
}

// ReputationSnapshot is recomputed on every sync and never stored.
type ReputationSnapshot struct {
	Address   string    `json:"address"`
	Score     int64     `json:"score"`
	XP        float64   `json:"xp"`
	FetchedAt time.Time `json:"fetchedAt"`
}

type RespScore struct {
	Address  string `json:"address"`
	Found    bool   `json:"found"`
	Score    int64  `json:"score"`
	Level    string `json:"level"`
	Eligible bool   `json:"eligible"`
}
