package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"binExchange/internal/ladder"
	"binExchange/internal/model"
	"binExchange/internal/storage"
)

const defaultStatsWindow = int64(3600)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"pools":  len(s.ex.ListPools()),
	})
}

func poolParam(c *gin.Context) (solana.PublicKey, bool) {
	id, err := solana.PublicKeyFromBase58(c.Param("pool"))
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("invalid pool id: %w", err))
		return solana.PublicKey{}, false
	}
	return id, true
}

func optionalKey(c *gin.Context, name string) (solana.PublicKey, bool) {
	v := c.Query(name)
	if v == "" {
		return solana.PublicKey{}, true
	}
	key, err := solana.PublicKeyFromBase58(v)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", name, err))
		return solana.PublicKey{}, false
	}
	return key, true
}

func uintQuery(c *gin.Context, name string, required bool) (uint64, bool) {
	v := c.Query(name)
	if v == "" {
		if required {
			respondError(c, http.StatusBadRequest, fmt.Errorf("%s is required", name))
			return 0, false
		}
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", name, err))
		return 0, false
	}
	return n, true
}

func (s *Server) listPools(c *gin.Context) {
	pools := s.ex.ListPools()
	out := make([]poolView, 0, len(pools))
	for _, p := range pools {
		v, err := newPoolView(p, nil)
		if err != nil {
			respondFailure(c, err)
			return
		}
		out = append(out, v)
	}
	respondOK(c, out)
}

func (s *Server) getPool(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	p, err := s.ex.GetPool(id)
	if err != nil {
		respondFailure(c, err)
		return
	}
	tvl, err := s.ex.TVL(id)
	if err != nil {
		respondFailure(c, err)
		return
	}
	v, err := newPoolView(p, tvl)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, v)
}

func (s *Server) listBins(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	bins, err := s.ex.ListBins(id)
	if err != nil {
		respondFailure(c, err)
		return
	}
	out := make([]binView, 0, len(bins))
	for _, b := range bins {
		out = append(out, binView{BinView: b, DisplayPrice: displayPrice(b.Price)})
	}
	respondOK(c, out)
}

func (s *Server) listPositions(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	owner, ok := optionalKey(c, "owner")
	if !ok {
		return
	}
	positions, err := s.ex.Positions(id, owner)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, positions)
}

func directionQuery(c *gin.Context) (ladder.Direction, bool) {
	d, err := ladder.ParseDirection(c.DefaultQuery("direction", ladder.QuoteIn.String()))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return 0, false
	}
	return d, true
}

func (s *Server) quote(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	d, ok := directionQuery(c)
	if !ok {
		return
	}
	amount, ok := uintQuery(c, "amount", true)
	if !ok {
		return
	}
	trader, ok := optionalKey(c, "trader")
	if !ok {
		return
	}
	q, err := s.ex.QuoteForTrader(id, trader, d, amount)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"direction": d.String(), "quote": q})
}

func (s *Server) maxIn(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	d, ok := directionQuery(c)
	if !ok {
		return
	}
	target, ok := uintQuery(c, "target_out", true)
	if !ok {
		return
	}
	trader, ok := optionalKey(c, "trader")
	if !ok {
		return
	}
	amountIn, q, err := s.ex.MaxAmountIn(id, trader, d, target)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"direction": d.String(), "amount_in": strconv.FormatUint(amountIn, 10), "quote": q})
}

func (s *Server) poolStats(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	if _, err := s.ex.GetPool(id); err != nil {
		respondFailure(c, err)
		return
	}
	window, ok := uintQuery(c, "window", false)
	if !ok {
		return
	}
	size := defaultStatsWindow
	if window > 0 {
		size = int64(window)
	}
	var metrics []model.PoolWindowMetrics
	if s.metrics != nil {
		metrics = s.metrics.WindowMetrics(id, size)
	}
	if metrics == nil {
		metrics = []model.PoolWindowMetrics{}
	}
	respondOK(c, metrics)
}

type pageView[T any] struct {
	Items []T    `json:"items"`
	Next  uint64 `json:"next,string"`
	More  bool   `json:"more"`
}

func pageQuery(c *gin.Context) (storage.PageQuery, bool) {
	pool, ok := optionalKey(c, "pool")
	if !ok {
		return storage.PageQuery{}, false
	}
	after, ok := uintQuery(c, "after", false)
	if !ok {
		return storage.PageQuery{}, false
	}
	limit, ok := uintQuery(c, "limit", false)
	if !ok {
		return storage.PageQuery{}, false
	}
	return storage.PageQuery{Pool: pool, After: after, Limit: int(min(limit, uint64(storage.MaxPageLimit)))}, true
}

func (s *Server) listSwaps(c *gin.Context) {
	q, ok := pageQuery(c)
	if !ok {
		return
	}
	page, err := s.records.ListSwaps(c.Request.Context(), q)
	if err != nil {
		respondFailure(c, err)
		return
	}
	if page.Items == nil {
		page.Items = []model.SwapRecord{}
	}
	respondOK(c, pageView[model.SwapRecord]{Items: page.Items, Next: page.Next, More: page.More})
}

func (s *Server) listBuybacks(c *gin.Context) {
	q, ok := pageQuery(c)
	if !ok {
		return
	}
	page, err := s.records.ListBuybacks(c.Request.Context(), q)
	if err != nil {
		respondFailure(c, err)
		return
	}
	if page.Items == nil {
		page.Items = []model.BuybackRecord{}
	}
	respondOK(c, pageView[model.BuybackRecord]{Items: page.Items, Next: page.Next, More: page.More})
}

// exportSwaps streams every swap of a pool as JSON lines, fetching pages
// lazily.
func (s *Server) exportSwaps(c *gin.Context) {
	id, ok := poolParam(c)
	if !ok {
		return
	}
	after, ok := uintQuery(c, "after", false)
	if !ok {
		return
	}
	fetch := func(ctx context.Context, after uint64, limit int) (storage.Page[model.SwapRecord], error) {
		return s.records.ListSwaps(ctx, storage.PageQuery{Pool: id, After: after, Limit: limit})
	}
	it := storage.NewIterator[model.SwapRecord](fetch, after, storage.MaxPageLimit)
	ctx := c.Request.Context()

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	c.Stream(func(w io.Writer) bool {
		if !it.Next(ctx) {
			return false
		}
		if err := enc.Encode(it.Value()); err != nil {
			return false
		}
		return true
	})
	if err := it.Err(); err != nil {
		s.logger.Warn("swap export stopped", zap.String("pool", id.String()), zap.Uint64("cursor", it.Cursor()), zap.Error(err))
	}
}

func (s *Server) stakingTotals(c *gin.Context) {
	respondOK(c, s.ex.Staking().Totals())
}

func (s *Server) stakeAccount(c *gin.Context) {
	owner, err := solana.PublicKeyFromBase58(c.Param("owner"))
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}
	acc, ok := s.ex.Staking().Account(owner)
	if !ok {
		acc = model.StakeAccount{Owner: owner}
	}
	tier := s.ex.Staking().Tier(owner)
	respondOK(c, gin.H{"account": acc, "tier": tier})
}

func (s *Server) treasuryState(c *gin.Context) {
	balances := make(map[string]string)
	for mint, amount := range s.ex.Treasury().Balances() {
		balances[mint.String()] = strconv.FormatUint(amount, 10)
	}
	respondOK(c, gin.H{"balances": balances, "totals": s.ex.Treasury().Totals()})
}
