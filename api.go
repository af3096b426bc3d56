package trustcoin

import (
	"context"
	"net/http"
	"time"

	"github.com/everFinance/trustcoin/common"
	"github.com/everFinance/trustcoin/eligibility"
	"github.com/everFinance/trustcoin/schema"
	"github.com/gin-gonic/gin"
)

const syncRequestTimeout = 10 * time.Minute

func (s *Trustcoin) registerRoutes() {
	r := s.engine
	r.Use(common.CORSMiddleware(), common.RequestIdMiddleware())
	if s.config.RateLimit > 0 {
		r.Use(common.LimiterMiddleware(s.config.RateLimit, "M", s.config.RateWhitelistSet()))
	}
	v1 := r.Group("/")
	{
		v1.GET("/info", s.getInfo)
		v1.GET("/score/:address", s.getScore)
		v1.GET("/whitelist/:address", s.getWhitelist)
		v1.POST("/whitelist/add-if-eligible", s.addIfEligible)

		// claim
		v1.GET("/claim-status", s.getClaimStatus)
		v1.GET("/claim-status/:address", s.getClaimStatus)
		v1.POST("/claim", s.postClaim)
		v1.GET("/claim/:address", s.getClaim)
		v1.GET("/claims", s.getClaims)
		v1.GET("/claims/total", s.getClaimTotal)

		v1.GET("/sync/candidates", s.getCandidates)
		v1.GET("/sync/last", s.getLastSync)
	}
	admin := r.Group("/")
	{
		admin.Use(common.ApiKeyMiddleware(s.config.AdminApiKey))
		admin.POST("/sync-whitelist", s.syncWhitelist)
		admin.POST("/candidates", s.postCandidates)
	}
}

func (s *Trustcoin) runAPI(port string) {
	s.apiSrv = &http.Server{
		Addr:    port,
		Handler: s.engine,
	}
	if err := s.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

func (s *Trustcoin) getInfo(c *gin.Context) {
	info := schema.RespInfo{
		ChainId:   s.config.Chain.ChainId,
		Token:     s.config.Chain.Token,
		Registry:  s.config.Chain.Registry,
		PolicyId:  s.whitelist.PolicyId(),
		Decimals:  s.config.Chain.Decimals,
		MinScore:  s.policy.MinScore,
		ClaimUnit: s.policy.ClaimUnit.String(),
	}
	if s.chainCli != nil {
		info.ChainId = s.chainCli.ChainID().Int64()
		info.Admin = s.chainCli.Admin().Hex()
	}
	if id, err := s.token.TransferPolicyId(c.Request.Context()); err == nil {
		info.TokenPolicyId = id
	} else {
		log.Warn("s.token.TransferPolicyId()", "err", err)
	}
	c.JSON(http.StatusOK, info)
}

func (s *Trustcoin) getScore(c *gin.Context) {
	addr, err := schema.NormalizeAddress(c.Param("address"))
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	sc, err := s.scores.CachedScore(c.Request.Context(), addr)
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	resp := schema.RespScore{Address: addr}
	if sc != nil {
		resp.Found = true
		resp.Score = sc.Score
		resp.Level = string(eligibility.ScoreLevel(sc.Score))
		resp.Eligible = s.policy.IsEligible(sc.Score)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Trustcoin) getWhitelist(c *gin.Context) {
	addr, err := schema.NormalizeAddress(c.Param("address"))
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	ok, err := s.whitelist.IsAuthorized(c.Request.Context(), addr)
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.RespWhitelist{
		Address:    addr,
		PolicyId:   s.whitelist.PolicyId(),
		Authorized: ok,
	})
}

func (s *Trustcoin) addIfEligible(c *gin.Context) {
	req := schema.ReqAddress{}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, err.Error())
		return
	}
	resp, err := s.reconciler.AddIfEligible(c.Request.Context(), req.Address)
	if err != nil {
		if resp == nil {
			kindErrorResponse(c, err)
			return
		}
		outcome, kind := schema.ClassifyErr(err)
		c.JSON(httpStatus(err), gin.H{
			"error":   err.Error(),
			"kind":    kind,
			"outcome": outcome,
			"address": resp.Address,
			"score":   resp.Score,
			"txHash":  resp.TxHash,
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Trustcoin) getClaimStatus(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		address = c.Query("address")
	}
	st, err := s.ledger.CheckClaimable(c.Request.Context(), address)
	if err != nil && st == nil {
		kindErrorResponse(c, err)
		return
	}
	// definitive refusals are a normal answer, carried in st.Error/st.Kind
	c.JSON(http.StatusOK, st)
}

func (s *Trustcoin) postClaim(c *gin.Context) {
	req := schema.ReqClaim{}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, err.Error())
		return
	}
	resp, err := s.ledger.Claim(c.Request.Context(), req)
	if err != nil {
		if resp == nil {
			kindErrorResponse(c, err)
			return
		}
		resp.Error = err.Error()
		if resp.Kind == "" {
			_, resp.Kind = schema.ClassifyErr(err)
		}
		c.JSON(httpStatus(err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Trustcoin) getClaim(c *gin.Context) {
	rec, err := s.ledger.GetClaim(c.Param("address"))
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Trustcoin) getClaims(c *gin.Context) {
	recs, err := s.ledger.GetAllClaims()
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Trustcoin) getClaimTotal(c *gin.Context) {
	total, err := s.ledger.GetTotalClaimed()
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, total)
}

func (s *Trustcoin) getCandidates(c *gin.Context) {
	addrs, err := s.Candidates()
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, addrs)
}

func (s *Trustcoin) getLastSync(c *gin.Context) {
	res := s.LastSync()
	if res == nil {
		kindErrorResponse(c, schema.ErrNotExist)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Trustcoin) syncWhitelist(c *gin.Context) {
	req := schema.ReqSync{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, err.Error())
			return
		}
	}
	// a sync keeps going if the caller hangs up; the result still lands in /sync/last
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), syncRequestTimeout)
	defer cancel()
	res, err := s.SyncWhitelist(ctx, req.Addresses)
	if err != nil {
		if res == nil {
			kindErrorResponse(c, err)
			return
		}
		c.JSON(httpStatus(err), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Trustcoin) postCandidates(c *gin.Context) {
	req := schema.ReqSync{}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, err.Error())
		return
	}
	added, invalid, err := s.store.SaveCandidates(req.Addresses)
	if err != nil {
		kindErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"added":   added,
		"invalid": invalid,
	})
}
