package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"binExchange/internal/exchange"
	"binExchange/internal/model"
	"binExchange/internal/storage"
	"binExchange/internal/storage/memory"
)

// Config controls the HTTP server.
type Config struct {
	Addr         string
	Operator     solana.PublicKey
	MaxSkew      time.Duration
	MaxBodyBytes int64
	Debug        bool
}

// MetricsReader returns stored window metrics for a pool.
type MetricsReader interface {
	WindowMetrics(pool solana.PublicKey, size int64) []model.PoolWindowMetrics
}

// Server exposes the exchange over HTTP.
type Server struct {
	cfg     Config
	ex      *exchange.Exchange
	records storage.RecordStore
	metrics MetricsReader
	replay  storage.IDSet
	logger  *zap.Logger
	now     func() time.Time
	engine  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves window metrics from reader.
func WithMetrics(reader MetricsReader) Option {
	return func(s *Server) { s.metrics = reader }
}

// WithReplaySet stores accepted signatures in set.
func WithReplaySet(set storage.IDSet) Option {
	return func(s *Server) { s.replay = set }
}

// WithClock overrides the clock used for timestamp checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(cfg Config, ex *exchange.Exchange, records storage.RecordStore, logger *zap.Logger, opts ...Option) (*Server, error) {
	if ex == nil {
		return nil, fmt.Errorf("exchange is nil")
	}
	if records == nil {
		return nil, fmt.Errorf("record store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	s := &Server{
		cfg:     cfg,
		ex:      ex,
		records: records,
		replay:  memory.NewIDSet(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", s.health)
	r.GET("/pools", s.listPools)
	r.GET("/pools/:pool", s.getPool)
	r.GET("/pools/:pool/bins", s.listBins)
	r.GET("/pools/:pool/positions", s.listPositions)
	r.GET("/pools/:pool/quote", s.quote)
	r.GET("/pools/:pool/max-in", s.maxIn)
	r.GET("/pools/:pool/stats", s.poolStats)
	r.GET("/pools/:pool/swaps/export", s.exportSwaps)
	r.GET("/swaps", s.listSwaps)
	r.GET("/buybacks", s.listBuybacks)
	r.GET("/staking", s.stakingTotals)
	r.GET("/staking/:owner", s.stakeAccount)
	r.GET("/treasury", s.treasuryState)

	w := r.Group("/", s.signed())
	w.POST("/pools", s.createPool)
	w.POST("/pools/:pool/close", s.closePool)
	w.POST("/pools/:pool/pause", s.pausePool)
	w.POST("/pools/:pool/unpause", s.unpausePool)
	w.POST("/pools/:pool/liquidity", s.addLiquidity)
	w.POST("/pools/:pool/liquidity/remove", s.removeLiquidity)
	w.POST("/pools/:pool/swap", s.swap)
	w.POST("/staking/stake", s.stake)
	w.POST("/staking/unstake", s.unstake)
	w.POST("/staking/claim", s.claim)

	op := w.Group("/", s.operator())
	op.POST("/pools/:pool/bond", s.confirmBond)
	op.POST("/treasury/harvest", s.harvest)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}
