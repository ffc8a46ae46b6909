package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"binExchange/internal/exchange"
	"binExchange/internal/ladder"
	"binExchange/internal/model"
	"binExchange/internal/swap"
)

// Every signed body carries the timestamp checked by the signed middleware.
type signedBody struct {
	Timestamp int64 `json:"timestamp"`
}

type createPoolBody struct {
	signedBody
	BaseMint    solana.PublicKey `json:"base_mint" binding:"required"`
	QuoteMint   solana.PublicKey `json:"quote_mint" binding:"required"`
	BinStep     uint16           `json:"bin_step"`
	BaseFeeBps  uint32           `json:"base_fee_bps"`
	Price       string           `json:"price" binding:"required"`
	ActiveBinID int32            `json:"active_bin_id"`
}

type liquidityBody struct {
	signedBody
	Range       ladder.Range     `json:"range"`
	BaseAmount  uint64           `json:"base_amount,string"`
	QuoteAmount uint64           `json:"quote_amount,string"`
	Shares      map[int32]string `json:"shares,omitempty"`
	Bps         uint32           `json:"bps,omitempty"`
}

type swapBody struct {
	signedBody
	Direction    string `json:"direction" binding:"required"`
	AmountIn     uint64 `json:"amount_in,string"`
	MinAmountOut uint64 `json:"min_amount_out,string"`
	MaxAmountIn  uint64 `json:"max_amount_in,string"`
}

type amountBody struct {
	signedBody
	Amount uint64 `json:"amount,string"`
}

type bondBody struct {
	signedBody
	Escrowed uint64 `json:"escrowed,string"`
}

type harvestBody struct {
	signedBody
	Mint string `json:"mint,omitempty"`
}

type swapResult struct {
	Record model.SwapRecord `json:"record"`
	Quote  swap.Quote       `json:"quote"`
}

func bindBody(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

func (s *Server) createPool(c *gin.Context) {
	var body createPoolBody
	if !bindBody(c, &body) {
		return
	}
	price, err := parsePrice(body.Price)
	if err != nil {
		respondFailure(c, err)
		return
	}
	pool, err := s.ex.CreatePool(c.Request.Context(), exchange.CreatePoolRequest{
		Creator:     ownerFrom(c),
		BaseMint:    body.BaseMint,
		QuoteMint:   body.QuoteMint,
		BinStep:     body.BinStep,
		BaseFeeBps:  body.BaseFeeBps,
		BasePrice:   price,
		ActiveBinID: body.ActiveBinID,
	})
	if err != nil {
		respondFailure(c, err)
		return
	}
	view, err := newPoolView(pool, nil)
	if err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, APIRespond{Result: view})
}

func (s *Server) closePool(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	var body signedBody
	if !bindBody(c, &body) {
		return
	}
	returned, err := s.ex.ClosePool(c.Request.Context(), id, ownerFrom(c))
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"pool": id, "returned_bond": fmt.Sprint(returned)})
}

func (s *Server) pausePool(c *gin.Context) {
	s.setPaused(c, s.ex.Pause)
}

func (s *Server) unpausePool(c *gin.Context) {
	s.setPaused(c, s.ex.Unpause)
}

func (s *Server) setPaused(c *gin.Context, fn func(context.Context, solana.PublicKey, solana.PublicKey) (model.Pool, error)) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	var body signedBody
	if !bindBody(c, &body) {
		return
	}
	pool, err := fn(c.Request.Context(), id, ownerFrom(c))
	if err != nil {
		respondFailure(c, err)
		return
	}
	view, err := newPoolView(pool, nil)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, view)
}

func (s *Server) confirmBond(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	var body bondBody
	if !bindBody(c, &body) {
		return
	}
	pool, err := s.ex.ConfirmBond(c.Request.Context(), id, body.Escrowed)
	if err != nil {
		respondFailure(c, err)
		return
	}
	view, err := newPoolView(pool, nil)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, view)
}

func (s *Server) addLiquidity(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	var body liquidityBody
	if !bindBody(c, &body) {
		return
	}
	res, err := s.ex.AddLiquidity(c.Request.Context(), exchange.AddLiquidityRequest{
		Pool:        id,
		Owner:       ownerFrom(c),
		Range:       body.Range,
		BaseAmount:  body.BaseAmount,
		QuoteAmount: body.QuoteAmount,
	})
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, res)
}

func (s *Server) removeLiquidity(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	var body liquidityBody
	if !bindBody(c, &body) {
		return
	}
	var shares model.BinShares
	if len(body.Shares) > 0 {
		shares = make(model.BinShares, len(body.Shares))
		for binID, v := range body.Shares {
			n, err := uint256.FromDecimal(v)
			if err != nil {
				respondError(c, http.StatusBadRequest, fmt.Errorf("shares of bin %d: %w", binID, err))
				return
			}
			shares[binID] = n
		}
	}
	res, err := s.ex.RemoveLiquidity(c.Request.Context(), exchange.RemoveLiquidityRequest{
		Pool:   id,
		Owner:  ownerFrom(c),
		Range:  body.Range,
		Shares: shares,
		Bps:    body.Bps,
	})
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, res)
}

func (s *Server) swap(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	var body swapBody
	if !bindBody(c, &body) {
		return
	}
	d, err := ladder.ParseDirection(body.Direction)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	rec, q, err := s.ex.Swap(c.Request.Context(), exchange.SwapRequest{
		Pool:         id,
		Trader:       ownerFrom(c),
		Direction:    d,
		AmountIn:     body.AmountIn,
		MinAmountOut: body.MinAmountOut,
		MaxAmountIn:  body.MaxAmountIn,
	})
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, swapResult{Record: rec, Quote: q})
}

func (s *Server) stake(c *gin.Context) {
	var body amountBody
	if !bindBody(c, &body) {
		return
	}
	acct, err := s.ex.Stake(c.Request.Context(), ownerFrom(c), body.Amount)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, acct)
}

func (s *Server) unstake(c *gin.Context) {
	var body amountBody
	if !bindBody(c, &body) {
		return
	}
	acct, err := s.ex.Unstake(c.Request.Context(), ownerFrom(c), body.Amount)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, acct)
}

func (s *Server) claim(c *gin.Context) {
	var body signedBody
	if !bindBody(c, &body) {
		return
	}
	owner := ownerFrom(c)
	paid, err := s.ex.Claim(c.Request.Context(), owner)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"owner": owner, "claimed": fmt.Sprint(paid)})
}

func (s *Server) harvest(c *gin.Context) {
	var body harvestBody
	if !bindBody(c, &body) {
		return
	}
	if body.Mint == "" {
		recs, err := s.ex.HarvestAll(c.Request.Context())
		if err != nil {
			respondFailure(c, err)
			return
		}
		if recs == nil {
			recs = []model.BuybackRecord{}
		}
		respondOK(c, recs)
		return
	}
	mint, err := solana.PublicKeyFromBase58(body.Mint)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("invalid mint: %w", err))
		return
	}
	rec, err := s.ex.Harvest(c.Request.Context(), mint)
	if err != nil {
		respondFailure(c, err)
		return
	}
	recs := []model.BuybackRecord{}
	if rec != nil {
		recs = append(recs, *rec)
	}
	respondOK(c, recs)
}
