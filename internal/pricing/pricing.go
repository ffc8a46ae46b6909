package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"binExchange/internal/fixedpoint"
	"binExchange/internal/treasury"
)

const maxBps = 10_000

// HTTPConfig configures an HTTPConverter.
type HTTPConfig struct {
	BaseURL      string
	NativeMint   solana.PublicKey
	SlippageBps  uint32
	MaxImpactBps uint32
	Timeout      time.Duration
}

// HTTPConverter prices conversions into the native mint with a quote
// endpoint that answers GET /quote?inputMint&outputMint&amount&slippageBps.
type HTTPConverter struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

var _ treasury.Converter = (*HTTPConverter)(nil)

func NewHTTPConverter(cfg HTTPConfig, logger *zap.Logger) (*HTTPConverter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("quote url is required")
	}
	if cfg.NativeMint.IsZero() {
		return nil, fmt.Errorf("native mint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPConverter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

// Convert quotes amount of mint into the native mint. The native mint
// converts one to one.
func (c *HTTPConverter) Convert(ctx context.Context, mint solana.PublicKey, amount uint64) (treasury.Conversion, error) {
	if mint.Equals(c.cfg.NativeMint) {
		return treasury.Conversion{AmountOut: amount}, nil
	}
	q := url.Values{}
	q.Set("inputMint", mint.String())
	q.Set("outputMint", c.cfg.NativeMint.String())
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.FormatUint(uint64(c.cfg.SlippageBps), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return treasury.Conversion{}, fmt.Errorf("build quote request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return treasury.Conversion{}, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return treasury.Conversion{}, fmt.Errorf("read quote: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return treasury.Conversion{}, fmt.Errorf("quote status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	conv, err := ParseQuote(body)
	if err != nil {
		return treasury.Conversion{}, err
	}
	if c.cfg.MaxImpactBps > 0 && conv.PriceImpactBps > c.cfg.MaxImpactBps {
		return treasury.Conversion{}, fmt.Errorf("price impact %d bps above limit %d", conv.PriceImpactBps, c.cfg.MaxImpactBps)
	}
	c.logger.Debug("quote",
		zap.String("mint", mint.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("amount_out", conv.AmountOut),
		zap.Uint32("price_impact_bps", conv.PriceImpactBps),
	)
	return conv, nil
}

// ParseQuote reads outAmount and priceImpactPct from a quote response.
// priceImpactPct is a percentage; it is rounded up to whole bps.
func ParseQuote(body []byte) (treasury.Conversion, error) {
	if !gjson.ValidBytes(body) {
		return treasury.Conversion{}, fmt.Errorf("quote response is not json")
	}
	out := gjson.GetBytes(body, "outAmount")
	if !out.Exists() {
		return treasury.Conversion{}, fmt.Errorf("quote response missing outAmount")
	}
	amountOut, err := strconv.ParseUint(out.String(), 10, 64)
	if err != nil {
		return treasury.Conversion{}, fmt.Errorf("outAmount %q: %w", out.String(), err)
	}

	var impactBps uint32
	if impact := gjson.GetBytes(body, "priceImpactPct"); impact.Exists() && impact.String() != "" {
		pct, err := decimal.NewFromString(impact.String())
		if err != nil {
			return treasury.Conversion{}, fmt.Errorf("priceImpactPct %q: %w", impact.String(), err)
		}
		bps := pct.Abs().Mul(decimal.NewFromInt(100)).Ceil()
		if bps.GreaterThan(decimal.NewFromInt(maxBps)) {
			bps = decimal.NewFromInt(maxBps)
		}
		impactBps = uint32(bps.IntPart())
	}
	return treasury.Conversion{AmountOut: amountOut, PriceImpactBps: impactBps}, nil
}

// Rate is amount out per amount in, as a ratio.
type Rate struct {
	Num uint64
	Den uint64
}

// FixedRate converts at configured rates with no price impact. Mints
// without a rate fail.
type FixedRate struct {
	Native solana.PublicKey
	Rates  map[solana.PublicKey]Rate
}

var _ treasury.Converter = FixedRate{}

func (f FixedRate) Convert(_ context.Context, mint solana.PublicKey, amount uint64) (treasury.Conversion, error) {
	if mint.Equals(f.Native) {
		return treasury.Conversion{AmountOut: amount}, nil
	}
	rate, ok := f.Rates[mint]
	if !ok || rate.Den == 0 {
		return treasury.Conversion{}, fmt.Errorf("no rate for mint %s", mint)
	}
	out, err := fixedpoint.MulDivUint64(amount, rate.Num, rate.Den, fixedpoint.RoundDown)
	if err != nil {
		return treasury.Conversion{}, fmt.Errorf("convert %s: %w", mint, err)
	}
	return treasury.Conversion{AmountOut: out}, nil
}

// ParseRates parses "mint=num/den" or "mint=decimal" entries.
func ParseRates(entries []string) (map[solana.PublicKey]Rate, error) {
	out := make(map[solana.PublicKey]Rate, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: want mint=rate", entry)
		}
		mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("invalid rate mint %q: %w", key, err)
		}
		rate, err := parseRate(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", mint, err)
		}
		out[mint] = rate
	}
	return out, nil
}

func parseRate(value string) (Rate, error) {
	if num, den, ok := strings.Cut(value, "/"); ok {
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return Rate{}, err
		}
		d, err := strconv.ParseUint(den, 10, 64)
		if err != nil {
			return Rate{}, err
		}
		if d == 0 {
			return Rate{}, fmt.Errorf("zero denominator")
		}
		return Rate{Num: n, Den: d}, nil
	}
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return Rate{}, err
	}
	if dec.Sign() <= 0 {
		return Rate{}, fmt.Errorf("rate must be positive")
	}
	exp := -dec.Exponent()
	if exp < 0 {
		exp = 0
	}
	if exp > 18 {
		return Rate{}, fmt.Errorf("rate precision above 18 digits")
	}
	scale := decimal.New(1, exp)
	num := dec.Mul(scale)
	if !num.IsInteger() || num.GreaterThan(decimal.NewFromInt(int64(^uint64(0)>>1))) {
		return Rate{}, fmt.Errorf("rate out of range")
	}
	return Rate{Num: uint64(num.IntPart()), Den: uint64(scale.IntPart())}, nil
}
