package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/everFinance/trustcoin/cache"
	"github.com/everFinance/trustcoin/common"
	"github.com/everFinance/trustcoin/schema"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"
)

var log = common.NewLog("reputation")

const (
	maxBulkSize = 500
	cachePrefix = "score:"
)

// Client talks to the reputation provider. A nil result with a nil error means "no profile";
// any error wraps schema.ErrProviderUnavailable and means the eligibility is unknown.
type Client struct {
	cli      *gentleman.Client
	limiter  *rate.Limiter
	cache    *cache.Cache // presentation lookups only
	bulkSize int
}

type Option func(*Client)

// WithRateLimit bounds outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBulkSize caps the addresses sent in one bulk request.
func WithBulkSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= maxBulkSize {
			c.bulkSize = n
		}
	}
}

func WithCache(lc *cache.Cache) Option {
	return func(c *Client) {
		c.cache = lc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cli.Use(timeout.Request(d))
		}
	}
}

func New(apiUrl string, opts ...Option) *Client {
	c := &Client{
		cli:      gentleman.New().URL(strings.TrimRight(apiUrl, "/")),
		limiter:  rate.NewLimiter(rate.Inf, 0),
		bulkSize: maxBulkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetScore(ctx context.Context, address string) (*schema.Score, error) {
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	req := c.cli.Get()
	req.AddPath("/score")
	req.AddQuery("address", addr)
	body, found, err := c.send(ctx, "score", req)
	if err != nil || !found {
		return nil, err
	}
	sc := &schema.Score{}
	if err := json.Unmarshal([]byte(payload(body).Raw), sc); err != nil {
		return nil, fmt.Errorf("%w: decode score: %v", schema.ErrProviderUnavailable, err)
	}
	sc.Address = addr
	return sc, nil
}

// GetScores returns an entry for every requested address; addresses the provider
// does not know map to nil. Addresses are fetched in chunks. When some chunks fail
// the map holds only the resolved addresses and the error names how many are unknown;
// when all fail the map is nil.
func (c *Client) GetScores(ctx context.Context, addresses []string) (map[string]*schema.Score, error) {
	addrs, invalid := schema.NormalizeAddresses(addresses)
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidAddress, invalid)
	}
	res := make(map[string]*schema.Score, len(addrs))
	var (
		lastErr error
		unknown int
	)
	for start := 0; start < len(addrs); start += c.bulkSize {
		end := start + c.bulkSize
		if end > len(addrs) {
			end = len(addrs)
		}
		if err := c.getScoresBatch(ctx, addrs[start:end], res); err != nil {
			log.Error("c.getScoresBatch(chunk)", "err", err, "from", start, "number", end-start)
			lastErr = err
			unknown += end - start
		}
	}
	if lastErr == nil {
		return res, nil
	}
	if unknown == len(addrs) {
		return nil, lastErr
	}
	return res, fmt.Errorf("%d of %d scores unknown: %w", unknown, len(addrs), lastErr)
}

// getScoresBatch fills res for addrs only when the whole chunk decoded.
func (c *Client) getScoresBatch(ctx context.Context, addrs []string, res map[string]*schema.Score) error {
	req := c.cli.Post()
	req.AddPath("/scores")
	req.JSON(map[string][]string{"addresses": addrs})
	body, found, err := c.send(ctx, "scores", req)
	if err != nil {
		return err
	}
	if !found {
		// a missing bulk endpoint says nothing about the addresses
		return fmt.Errorf("%w: bulk endpoint not found", schema.ErrProviderUnavailable)
	}
	data := payload(body)
	if env := gjson.GetBytes(body, "data"); !data.IsObject() || (env.Exists() && !env.IsObject()) {
		return fmt.Errorf("%w: bulk response is not an object", schema.ErrProviderUnavailable)
	}

	chunk := make(map[string]*schema.Score, len(addrs))
	for _, a := range addrs {
		chunk[a] = nil
	}
	var (
		decodeErr   error
		keys, valid int
	)
	data.ForEach(func(key, value gjson.Result) bool {
		keys++
		addr, err := schema.NormalizeAddress(key.String())
		if err != nil {
			log.Warn("provider returned unknown key", "key", key.String())
			return true
		}
		valid++
		if _, ok := chunk[addr]; !ok || value.Type == gjson.Null {
			return true
		}
		sc := &schema.Score{}
		if value.Type == gjson.Number {
			sc.Score = value.Int()
		} else if err := json.Unmarshal([]byte(value.Raw), sc); err != nil {
			decodeErr = err
			return false
		}
		sc.Address = addr
		chunk[addr] = sc
		return true
	})
	if decodeErr != nil {
		return fmt.Errorf("%w: decode scores: %v", schema.ErrProviderUnavailable, decodeErr)
	}
	if keys > 0 && valid == 0 {
		return fmt.Errorf("%w: bulk response has no address keys", schema.ErrProviderUnavailable)
	}
	for a, sc := range chunk {
		res[a] = sc
	}
	return nil
}

func (c *Client) GetUserData(ctx context.Context, address string) (*schema.UserData, error) {
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	req := c.cli.Get()
	req.AddPath("/user/" + url.PathEscape(addr))
	body, found, err := c.send(ctx, "user", req)
	if err != nil || !found {
		return nil, err
	}
	ud := &schema.UserData{}
	if err := json.Unmarshal([]byte(payload(body).Raw), ud); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", schema.ErrProviderUnavailable, err)
	}
	ud.Address = addr
	return ud, nil
}

// CachedScore serves presentation reads through the TTL cache. Reconciliation never calls it.
func (c *Client) CachedScore(ctx context.Context, address string) (*schema.Score, error) {
	addr, err := schema.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if by, err := c.cache.Get(cachePrefix + addr); err == nil {
			sc := &schema.Score{}
			if string(by) == "null" {
				return nil, nil
			}
			if err := json.Unmarshal(by, sc); err == nil {
				return sc, nil
			}
		}
	}
	sc, err := c.GetScore(ctx, addr)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		by, _ := json.Marshal(sc) // nil marshals to "null"
		if err := c.cache.Set(cachePrefix+addr, by); err != nil {
			log.Warn("c.cache.Set(addr)", "err", err, "address", addr)
		}
	}
	return sc, nil
}

// InvalidateScore drops a cached presentation score, e.g. after a whitelist change.
func (c *Client) InvalidateScore(address string) {
	if c.cache == nil {
		return
	}
	if addr, err := schema.NormalizeAddress(address); err == nil {
		_ = c.cache.Delete(cachePrefix + addr)
	}
}

func (c *Client) send(ctx context.Context, endpoint string, req *gentleman.Request) (body []byte, found bool, err error) {
	if err = c.limiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("%w: %v", schema.ErrProviderUnavailable, err)
	}
	req.Context.SetCancelContext(ctx)

	start := time.Now()
	resp, err := req.Send()
	if err != nil {
		observeRequest(endpoint, "error", start)
		log.Warn("reputation request failed", "err", err, "endpoint", endpoint)
		return nil, false, fmt.Errorf("%w: %v", schema.ErrProviderUnavailable, err)
	}
	defer resp.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		observeRequest(endpoint, "not_found", start)
		return nil, false, nil
	case !resp.Ok:
		observeRequest(endpoint, "error", start)
		return nil, false, fmt.Errorf("%w: http code: %d, errMsg: %s", schema.ErrProviderUnavailable, resp.StatusCode, resp.String())
	}
	observeRequest(endpoint, "ok", start)
	return resp.Bytes(), true, nil
}

// payload unwraps an optional {"data": ...} envelope.
func payload(body []byte) gjson.Result {
	res := gjson.ParseBytes(body)
	if data := res.Get("data"); data.Exists() && data.IsObject() {
		return data
	}
	return res
}
