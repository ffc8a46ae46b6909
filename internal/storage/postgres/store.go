package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"binExchange/internal/model"
	"binExchange/internal/storage"
)

// Store provides Postgres persistence for records, the pool projection and
// indexer state.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.RecordStore = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS applied_events (
		event_id TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pools (
		pool TEXT PRIMARY KEY,
		base_mint TEXT NOT NULL,
		quote_mint TEXT NOT NULL,
		creator TEXT NOT NULL,
		bin_step INTEGER NOT NULL,
		base_fee_bps INTEGER NOT NULL,
		min_fee_bps INTEGER NOT NULL,
		max_fee_bps INTEGER NOT NULL,
		bond_amount NUMERIC NOT NULL,
		status TEXT NOT NULL,
		paused BOOLEAN NOT NULL DEFAULT false,
		active_bin_id INTEGER NOT NULL,
		base_price NUMERIC NOT NULL,
		total_volume NUMERIC NOT NULL,
		total_fees NUMERIC NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE pools ADD COLUMN IF NOT EXISTS paused BOOLEAN NOT NULL DEFAULT false`,
	`CREATE TABLE IF NOT EXISTS swaps (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		pool TEXT NOT NULL,
		trader TEXT NOT NULL,
		in_mint TEXT NOT NULL,
		in_amount NUMERIC NOT NULL,
		out_mint TEXT NOT NULL,
		out_amount NUMERIC NOT NULL,
		fee_bps INTEGER NOT NULL,
		lp_fee NUMERIC NOT NULL,
		protocol_fee NUMERIC NOT NULL,
		bins_crossed INTEGER NOT NULL,
		price_impact_bps INTEGER NOT NULL,
		start_bin_id INTEGER NOT NULL,
		end_bin_id INTEGER NOT NULL,
		ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS swaps_pool_ts ON swaps (pool, ts)`,
	`CREATE TABLE IF NOT EXISTS fees (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		pool TEXT NOT NULL,
		mint TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS buybacks (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		mint TEXT NOT NULL,
		total_in NUMERIC NOT NULL,
		native_out NUMERIC NOT NULL,
		price_impact_bps INTEGER NOT NULL,
		burned NUMERIC NOT NULL,
		to_stakers NUMERIC NOT NULL,
		to_ops NUMERIC NOT NULL,
		ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pool_window_metrics (
		pool TEXT NOT NULL,
		window_size_seconds BIGINT NOT NULL,
		window_start_ts TIMESTAMPTZ NOT NULL,
		window_end_ts TIMESTAMPTZ NOT NULL,
		swap_count BIGINT NOT NULL,
		volume_base NUMERIC NOT NULL,
		volume_quote NUMERIC NOT NULL,
		fee_base NUMERIC NOT NULL,
		fee_quote NUMERIC NOT NULL,
		fee_rate TEXT,
		tvl_quote TEXT,
		apr TEXT,
		fee_method TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (pool, window_size_seconds, window_start_ts)
	)`,
	`CREATE TABLE IF NOT EXISTS indexer_state (
		name TEXT PRIMARY KEY,
		last_processed_ts NUMERIC NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// exec sends a batch and checks every queued statement.
func (s *Store) exec(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Add marks an applied event id. It is the Postgres applied-id set.
func (s *Store) Add(ctx context.Context, id common.Hash) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO applied_events (event_id) VALUES ($1) ON CONFLICT DO NOTHING`, id.Hex())
	if err != nil {
		return false, fmt.Errorf("mark applied %s: %w", id.Hex(), err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Has(ctx context.Context, id common.Hash) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applied_events WHERE event_id=$1)`, id.Hex()).Scan(&ok)
	return ok, err
}

func (s *Store) PutSwaps(ctx context.Context, swaps []model.SwapRecord) error {
	if len(swaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range swaps {
		batch.Queue(`
			INSERT INTO swaps (
				event_id, pool, trader, in_mint, in_amount, out_mint, out_amount, fee_bps, lp_fee,
				protocol_fee, bins_crossed, price_impact_bps, start_bin_id, end_bin_id, ts
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (event_id) DO NOTHING
		`,
			r.EventID.Hex(),
			r.Pool.String(),
			r.Trader.String(),
			r.InMint.String(),
			numeric(r.InAmount),
			r.OutMint.String(),
			numeric(r.OutAmount),
			int64(r.FeeBps),
			numeric(r.LPFee),
			numeric(r.ProtocolFee),
			int64(r.BinsCrossed),
			int64(r.PriceImpactBps),
			r.StartBinID,
			r.EndBinID,
			r.Timestamp,
		)
	}
	return s.exec(ctx, batch)
}

func (s *Store) PutFees(ctx context.Context, fees []model.FeeRecord) error {
	if len(fees) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range fees {
		batch.Queue(`
			INSERT INTO fees (event_id, pool, mint, amount, ts)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (event_id) DO NOTHING
		`, r.EventID.Hex(), r.Pool.String(), r.Mint.String(), numeric(r.Amount), r.Timestamp)
	}
	return s.exec(ctx, batch)
}

func (s *Store) PutBuybacks(ctx context.Context, buybacks []model.BuybackRecord) error {
	if len(buybacks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range buybacks {
		batch.Queue(`
			INSERT INTO buybacks (event_id, mint, total_in, native_out, price_impact_bps, burned, to_stakers, to_ops, ts)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (event_id) DO NOTHING
		`,
			r.EventID.Hex(),
			r.Mint.String(),
			numeric(r.TotalIn),
			numeric(r.NativeOut),
			int64(r.PriceImpactBps),
			numeric(r.Burned),
			numeric(r.ToStakers),
			numeric(r.ToOps),
			r.Timestamp,
		)
	}
	return s.exec(ctx, batch)
}

// UpsertPools inserts or updates the pool projection.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		price := "0"
		if p.BasePrice != nil {
			price = p.BasePrice.Dec()
		}
		batch.Queue(`
			INSERT INTO pools (
				pool, base_mint, quote_mint, creator, bin_step, base_fee_bps, min_fee_bps, max_fee_bps,
				bond_amount, status, paused, active_bin_id, base_price, total_volume, total_fees, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
			ON CONFLICT (pool)
			DO UPDATE SET
				bond_amount = EXCLUDED.bond_amount,
				status = EXCLUDED.status,
				paused = EXCLUDED.paused,
				active_bin_id = EXCLUDED.active_bin_id,
				total_volume = EXCLUDED.total_volume,
				total_fees = EXCLUDED.total_fees,
				updated_at = now()
		`,
			p.ID.String(),
			p.BaseMint.String(),
			p.QuoteMint.String(),
			p.Creator.String(),
			int64(p.BinStep),
			int64(p.BaseFeeBps),
			int64(p.MinFeeBps),
			int64(p.MaxFeeBps),
			numeric(p.BondAmount),
			string(p.Status),
			p.Paused,
			p.ActiveBinID,
			price,
			numeric(p.TotalVolume),
			numeric(p.TotalFees),
			p.CreatedAt,
		)
	}
	return s.exec(ctx, batch)
}

const poolColumns = `pool, base_mint, quote_mint, creator, bin_step, base_fee_bps, min_fee_bps, max_fee_bps,
	bond_amount::text, status, paused, active_bin_id, base_price::text, total_volume::text, total_fees::text, created_at`

func (s *Store) GetPool(ctx context.Context, id solana.PublicKey) (model.Pool, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE pool=$1`, id.String())
	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, false, nil
		}
		return model.Pool{}, false, err
	}
	return p, true, nil
}

// ListPools returns every projected pool ordered by creation time.
func (s *Store) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at, pool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPool(row pgx.Row) (model.Pool, error) {
	var id, base, quote, creator, status, bond, price, volume, fees string
	var binStep, baseFee, minFee, maxFee, createdAt int64
	var active int32
	var paused bool
	if err := row.Scan(&id, &base, &quote, &creator, &binStep, &baseFee, &minFee, &maxFee, &bond, &status, &paused, &active, &price, &volume, &fees, &createdAt); err != nil {
		return model.Pool{}, err
	}
	p := model.Pool{
		BinStep:     uint16(binStep),
		BaseFeeBps:  uint32(baseFee),
		MinFeeBps:   uint32(minFee),
		MaxFeeBps:   uint32(maxFee),
		Status:      model.PoolStatus(status),
		Paused:      paused,
		ActiveBinID: active,
		CreatedAt:   createdAt,
	}
	var err error
	if p.ID, err = solana.PublicKeyFromBase58(id); err != nil {
		return model.Pool{}, fmt.Errorf("pool id %q: %w", id, err)
	}
	if p.BaseMint, err = solana.PublicKeyFromBase58(base); err != nil {
		return model.Pool{}, fmt.Errorf("pool %s base mint: %w", id, err)
	}
	if p.QuoteMint, err = solana.PublicKeyFromBase58(quote); err != nil {
		return model.Pool{}, fmt.Errorf("pool %s quote mint: %w", id, err)
	}
	if p.Creator, err = solana.PublicKeyFromBase58(creator); err != nil {
		return model.Pool{}, fmt.Errorf("pool %s creator: %w", id, err)
	}
	if p.BasePrice, err = uint256.FromDecimal(price); err != nil {
		return model.Pool{}, fmt.Errorf("pool %s base price: %w", id, err)
	}
	for _, f := range []struct {
		dst *uint64
		src string
	}{{&p.BondAmount, bond}, {&p.TotalVolume, volume}, {&p.TotalFees, fees}} {
		if *f.dst, err = parseNumeric(f.src); err != nil {
			return model.Pool{}, fmt.Errorf("pool %s: %w", id, err)
		}
	}
	return p, nil
}

func (s *Store) ListSwaps(ctx context.Context, q storage.PageQuery) (storage.Page[model.SwapRecord], error) {
	limit := storage.NormalizeLimit(q.Limit)
	pool := ""
	if !q.Pool.IsZero() {
		pool = q.Pool.String()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, `+swapColumns+`
		FROM swaps
		WHERE id > $1 AND ($2 = '' OR pool = $2)
		ORDER BY id
		LIMIT $3
	`, int64(q.After), pool, limit+1)
	if err != nil {
		return storage.Page[model.SwapRecord]{}, err
	}
	defer rows.Close()

	var out storage.Page[model.SwapRecord]
	for rows.Next() {
		if len(out.Items) == limit {
			out.More = true
			break
		}
		var id int64
		r, err := scanSwap(rows, &id)
		if err != nil {
			return storage.Page[model.SwapRecord]{}, err
		}
		out.Items = append(out.Items, r)
		out.Next = uint64(id)
	}
	return out, rows.Err()
}

func (s *Store) SwapsBetween(ctx context.Context, pool solana.PublicKey, start, end int64) ([]model.SwapRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, `+swapColumns+`
		FROM swaps
		WHERE pool = $1 AND ts >= $2 AND ts < $3
		ORDER BY id
	`, pool.String(), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SwapRecord
	for rows.Next() {
		var id int64
		r, err := scanSwap(rows, &id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const swapColumns = `event_id, pool, trader, in_mint, in_amount::text, out_mint, out_amount::text, fee_bps,
	lp_fee::text, protocol_fee::text, bins_crossed, price_impact_bps, start_bin_id, end_bin_id, ts`

func scanSwap(rows pgx.Rows, id *int64) (model.SwapRecord, error) {
	var eventID, pool, trader, inMint, outMint, inAmount, outAmount, lpFee, protoFee string
	var feeBps, crossed, impact int64
	var r model.SwapRecord
	if err := rows.Scan(id, &eventID, &pool, &trader, &inMint, &inAmount, &outMint, &outAmount, &feeBps,
		&lpFee, &protoFee, &crossed, &impact, &r.StartBinID, &r.EndBinID, &r.Timestamp); err != nil {
		return model.SwapRecord{}, err
	}
	r.EventID = common.HexToHash(eventID)
	r.FeeBps = uint32(feeBps)
	r.BinsCrossed = uint32(crossed)
	r.PriceImpactBps = uint32(impact)
	var err error
	keys := []struct {
		dst *solana.PublicKey
		src string
	}{{&r.Pool, pool}, {&r.Trader, trader}, {&r.InMint, inMint}, {&r.OutMint, outMint}}
	for _, k := range keys {
		if *k.dst, err = solana.PublicKeyFromBase58(k.src); err != nil {
			return model.SwapRecord{}, fmt.Errorf("swap %s: %w", eventID, err)
		}
	}
	amounts := []struct {
		dst *uint64
		src string
	}{{&r.InAmount, inAmount}, {&r.OutAmount, outAmount}, {&r.LPFee, lpFee}, {&r.ProtocolFee, protoFee}}
	for _, a := range amounts {
		if *a.dst, err = parseNumeric(a.src); err != nil {
			return model.SwapRecord{}, fmt.Errorf("swap %s: %w", eventID, err)
		}
	}
	return r, nil
}

func (s *Store) ListBuybacks(ctx context.Context, q storage.PageQuery) (storage.Page[model.BuybackRecord], error) {
	limit := storage.NormalizeLimit(q.Limit)
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, mint, total_in::text, native_out::text, price_impact_bps,
			burned::text, to_stakers::text, to_ops::text, ts
		FROM buybacks
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, int64(q.After), limit+1)
	if err != nil {
		return storage.Page[model.BuybackRecord]{}, err
	}
	defer rows.Close()

	var out storage.Page[model.BuybackRecord]
	for rows.Next() {
		if len(out.Items) == limit {
			out.More = true
			break
		}
		var id, impact int64
		var eventID, mint, totalIn, nativeOut, burned, stakers, ops string
		var r model.BuybackRecord
		if err := rows.Scan(&id, &eventID, &mint, &totalIn, &nativeOut, &impact, &burned, &stakers, &ops, &r.Timestamp); err != nil {
			return storage.Page[model.BuybackRecord]{}, err
		}
		r.EventID = common.HexToHash(eventID)
		r.PriceImpactBps = uint32(impact)
		if r.Mint, err = solana.PublicKeyFromBase58(mint); err != nil {
			return storage.Page[model.BuybackRecord]{}, fmt.Errorf("buyback %s: %w", eventID, err)
		}
		amounts := []struct {
			dst *uint64
			src string
		}{{&r.TotalIn, totalIn}, {&r.NativeOut, nativeOut}, {&r.Burned, burned}, {&r.ToStakers, stakers}, {&r.ToOps, ops}}
		for _, a := range amounts {
			if *a.dst, err = parseNumeric(a.src); err != nil {
				return storage.Page[model.BuybackRecord]{}, fmt.Errorf("buyback %s: %w", eventID, err)
			}
		}
		out.Items = append(out.Items, r)
		out.Next = uint64(id)
	}
	return out, rows.Err()
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool, window_size_seconds, window_start_ts, window_end_ts, swap_count,
				volume_base, volume_quote, fee_base, fee_quote, fee_rate, tvl_quote, apr, fee_method,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
			ON CONFLICT (pool, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				volume_base = EXCLUDED.volume_base,
				volume_quote = EXCLUDED.volume_quote,
				fee_base = EXCLUDED.fee_base,
				fee_quote = EXCLUDED.fee_quote,
				fee_rate = EXCLUDED.fee_rate,
				tvl_quote = EXCLUDED.tvl_quote,
				apr = EXCLUDED.apr,
				fee_method = EXCLUDED.fee_method,
				updated_at = now()
		`,
			m.Pool.String(),
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.SwapCount),
			m.VolumeBase,
			m.VolumeQuote,
			m.FeeBase,
			m.FeeQuote,
			m.FeeRate,
			m.TVLQuote,
			m.APR,
			m.FeeMethod,
		)
	}
	return s.exec(ctx, batch)
}

// LoadState returns the cursor saved under name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var raw string
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts::text FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	cursor, err := parseNumeric(raw)
	if err != nil {
		return 0, false, fmt.Errorf("state %s: %w", name, err)
	}
	return cursor, true, nil
}

// SaveState upserts the cursor for a name.
func (s *Store) SaveState(ctx context.Context, name string, cursor uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, numeric(cursor))
	return err
}

func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseNumeric(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}
