package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"binExchange/internal/model"
)

// APIRespond is the envelope of every response.
type APIRespond struct {
	Result interface{}
	Error  *string
}

func respondOK(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, APIRespond{Result: result})
}

func respondError(c *gin.Context, status int, err error) {
	msg := err.Error()
	c.AbortWithStatusJSON(status, APIRespond{Error: &msg})
}

func respondFailure(c *gin.Context, err error) {
	respondError(c, statusFor(err), err)
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{model.ErrPoolNotFound, http.StatusNotFound},
	{model.ErrUnauthorized, http.StatusForbidden},
	{model.ErrPoolExists, http.StatusConflict},
	{model.ErrPoolNotActive, http.StatusConflict},
	{model.ErrPoolPaused, http.StatusConflict},
	{model.ErrPoolClosed, http.StatusConflict},
	{model.ErrNonZeroLiquidityOnClose, http.StatusConflict},
	{model.ErrOutOfRange, http.StatusBadRequest},
	{model.ErrInvalidAmount, http.StatusBadRequest},
	{model.ErrInvalidFeeConfig, http.StatusBadRequest},
	{model.ErrInvalidPoolConfig, http.StatusBadRequest},
	{model.ErrBondNotMet, http.StatusUnprocessableEntity},
	{model.ErrSlippageExceeded, http.StatusUnprocessableEntity},
	{model.ErrInsufficientLiquidity, http.StatusUnprocessableEntity},
	{model.ErrInsufficientShares, http.StatusUnprocessableEntity},
	{model.ErrInsufficientStake, http.StatusUnprocessableEntity},
	{model.ErrConversionFailed, http.StatusBadGateway},
}

func statusFor(err error) int {
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
