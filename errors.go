package trustcoin

import (
	"net/http"

	"github.com/everFinance/trustcoin/schema"
	"github.com/gin-gonic/gin"
)

// httpStatus keeps definitive failures (4xx), ambiguous ones (202/503) and
// misconfiguration (500) apart.
func httpStatus(err error) int {
	switch schema.Kind(err) {
	case schema.ErrAlreadyClaimed, schema.ErrClaimInFlight:
		return http.StatusConflict
	case schema.ErrInvalidSignature, schema.ErrSignatureExpired, schema.ErrUnauthorized:
		return http.StatusUnauthorized
	case schema.ErrProviderUnavailable, schema.ErrChainRead, schema.ErrChainWrite:
		return http.StatusServiceUnavailable
	case schema.ErrTxTimeout:
		return http.StatusAccepted
	case schema.ErrNotExist:
		return http.StatusNotFound
	case schema.ErrMisconfigured, nil:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func errorResponse(c *gin.Context, err string) {
	// client error
	c.JSON(http.StatusBadRequest, schema.RespErr{
		Err:     err,
		Outcome: schema.OutcomeFailed,
	})
}

func kindErrorResponse(c *gin.Context, err error) {
	outcome, kind := schema.ClassifyErr(err)
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("internal error", "err", err, "path", c.FullPath(), "requestId", c.GetString("requestId"))
	}
	c.JSON(status, schema.RespErr{
		Err:     err.Error(),
		Kind:    kind,
		Outcome: outcome,
	})
}
