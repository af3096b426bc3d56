package sdk

import (
	"fmt"
	"net/http"

	"github.com/everFinance/trustcoin/schema"
	"gopkg.in/h2non/gentleman.v2"
)

const apiKeyHeader = "X-API-KEY"

// TrustcoinCli talks to a trustcoin server. ApiKey is only sent to admin routes.
type TrustcoinCli struct {
	SCli   *gentleman.Client
	ApiKey string
}

func New(trustcoinUrl string) *TrustcoinCli {
	return &TrustcoinCli{
		SCli: gentleman.New().URL(trustcoinUrl),
	}
}

func NewWithApiKey(trustcoinUrl, apiKey string) *TrustcoinCli {
	cli := New(trustcoinUrl)
	cli.ApiKey = apiKey
	return cli
}

// Error is a non-2xx answer. Kind is the server's stable error code when it sent one.
type Error struct {
	StatusCode int
	schema.RespErr
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("resp failed: %d %s: %s", e.StatusCode, e.Kind, e.Err)
	}
	return fmt.Sprintf("resp failed: %d: %s", e.StatusCode, e.Err)
}

func respError(resp *gentleman.Response) error {
	e := &Error{StatusCode: resp.StatusCode}
	if err := resp.JSON(&e.RespErr); err != nil || e.Err == "" {
		e.Err = http.StatusText(resp.StatusCode)
	}
	return e
}

func (c *TrustcoinCli) get(path string, out interface{}) error {
	req := c.SCli.Get()
	req.AddPath(path)
	resp, err := req.Send()
	if err != nil {
		return err
	}
	defer resp.Close()
	if !resp.Ok {
		return respError(resp)
	}
	return resp.JSON(out)
}

func (c *TrustcoinCli) post(path string, body, out interface{}, admin bool) error {
	req := c.SCli.Post()
	req.AddPath(path)
	if admin && c.ApiKey != "" {
		req.SetHeader(apiKeyHeader, c.ApiKey)
	}
	if body != nil {
		req.JSON(body)
	}
	resp, err := req.Send()
	if err != nil {
		return err
	}
	defer resp.Close()
	if !resp.Ok {
		return respError(resp)
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

func (c *TrustcoinCli) GetInfo() (schema.RespInfo, error) {
	info := schema.RespInfo{}
	err := c.get("/info", &info)
	return info, err
}

func (c *TrustcoinCli) GetScore(address string) (schema.RespScore, error) {
	sc := schema.RespScore{}
	err := c.get("/score/"+address, &sc)
	return sc, err
}

func (c *TrustcoinCli) IsWhitelisted(address string) (schema.RespWhitelist, error) {
	wl := schema.RespWhitelist{}
	err := c.get("/whitelist/"+address, &wl)
	return wl, err
}

func (c *TrustcoinCli) AddIfEligible(address string) (schema.RespAddIfEligible, error) {
	res := schema.RespAddIfEligible{}
	err := c.post("/whitelist/add-if-eligible", schema.ReqAddress{Address: address}, &res, false)
	return res, err
}

// claim

func (c *TrustcoinCli) GetClaimStatus(address string) (schema.ClaimStatus, error) {
	st := schema.ClaimStatus{}
	err := c.get("/claim-status/"+address, &st)
	return st, err
}

// SubmitClaim posts a signed claim. Refused and pending claims still return the
// decoded response next to the error.
func (c *TrustcoinCli) SubmitClaim(claim schema.ReqClaim) (*schema.RespClaim, error) {
	req := c.SCli.Post()
	req.AddPath("/claim")
	req.JSON(claim)
	resp, err := req.Send()
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	res := &schema.RespClaim{}
	if jerr := resp.JSON(res); jerr != nil || res.Outcome == "" {
		if resp.Ok {
			return nil, fmt.Errorf("decode claim response: %v", jerr)
		}
		return nil, respError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return res, &Error{StatusCode: resp.StatusCode, RespErr: schema.RespErr{Err: res.Error, Kind: res.Kind, Outcome: res.Outcome}}
	}
	return res, nil
}

func (c *TrustcoinCli) GetClaim(address string) (schema.ClaimRecord, error) {
	rec := schema.ClaimRecord{}
	err := c.get("/claim/"+address, &rec)
	return rec, err
}

func (c *TrustcoinCli) GetClaims() ([]schema.ClaimRecord, error) {
	recs := make([]schema.ClaimRecord, 0)
	err := c.get("/claims", &recs)
	return recs, err
}

func (c *TrustcoinCli) GetClaimTotal() (schema.RespClaimTotal, error) {
	total := schema.RespClaimTotal{}
	err := c.get("/claims/total", &total)
	return total, err
}

// sync

// SyncWhitelist runs a reconciliation; nil addrs syncs the server's stored candidates.
func (c *TrustcoinCli) SyncWhitelist(addrs []string) (schema.SyncResult, error) {
	res := schema.SyncResult{}
	err := c.post("/sync-whitelist", schema.ReqSync{Addresses: addrs}, &res, true)
	return res, err
}

func (c *TrustcoinCli) GetLastSync() (schema.SyncResult, error) {
	res := schema.SyncResult{}
	err := c.get("/sync/last", &res)
	return res, err
}

func (c *TrustcoinCli) GetCandidates() ([]string, error) {
	addrs := make([]string, 0)
	err := c.get("/sync/candidates", &addrs)
	return addrs, err
}

func (c *TrustcoinCli) AddCandidates(addrs []string) (added int, invalid []string, err error) {
	res := struct {
		Added   int      `json:"added"`
		Invalid []string `json:"invalid"`
	}{}
	err = c.post("/candidates", schema.ReqSync{Addresses: addrs}, &res, true)
	return res.Added, res.Invalid, err
}
