package dex

import (
	"encoding/base64"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"binExchange/internal/model"
)

const (
	dataPrefix    = "Program data: "
	programPrefix = "Program "
)

// Decoder turns program log lines into exchange events.
type Decoder struct {
	programID solana.PublicKey
	names     map[[8]byte]string
	logger    *zap.Logger
}

func NewDecoder(programID solana.PublicKey, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make(map[[8]byte]string, len(eventNames))
	for _, name := range eventNames {
		names[Discriminator(name)] = name
	}
	return &Decoder{programID: programID, names: names, logger: logger}
}

// CanDecode reports whether data starts with a known discriminator.
func (d *Decoder) CanDecode(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	_, ok := d.names[disc]
	return ok
}

// DecodeData decodes one event payload into its program layout.
func (d *Decoder) DecodeData(data []byte) (string, interface{}, error) {
	if len(data) < 8 {
		return "", nil, fmt.Errorf("event data too short: %d bytes", len(data))
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	name, ok := d.names[disc]
	if !ok {
		return "", nil, fmt.Errorf("unknown discriminator %x", disc)
	}
	v := newEvent(name)
	if err := bin.NewBorshDecoder(data[8:]).Decode(v); err != nil {
		return name, nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return name, v, nil
}

// Decode extracts the events emitted by the program in one transaction.
// Lines emitted by other programs are ignored. Failed transactions yield
// nothing.
func (d *Decoder) Decode(log model.ProgramLog) ([]model.Event, []model.DecodeError) {
	if log.Failed {
		return nil, nil
	}
	var (
		events []model.Event
		errs   []model.DecodeError
		stack  []string
		index  int
	)
	program := d.programID.String()
	for i, line := range log.Logs {
		switch {
		case strings.HasPrefix(line, dataPrefix):
			if len(stack) == 0 || stack[len(stack)-1] != program {
				continue
			}
			ev, err := d.decodeLine(log, strings.TrimPrefix(line, dataPrefix), index)
			if err != nil {
				errs = append(errs, model.DecodeError{Signature: log.Signature, Slot: log.Slot, LogIndex: i, Error: err.Error()})
				d.logger.Warn("decode program data failed", zap.String("signature", log.Signature), zap.Int("line", i), zap.Error(err))
				continue
			}
			if ev != nil {
				events = append(events, *ev)
				index++
			}
		case strings.HasPrefix(line, programPrefix):
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			switch {
			case fields[2] == "invoke":
				stack = append(stack, fields[1])
			case fields[2] == "success" || fields[2] == "failed:" || fields[2] == "failed":
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}
	return events, errs
}

func (d *Decoder) decodeLine(log model.ProgramLog, payload string, index int) (*model.Event, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	if !d.CanDecode(data) {
		return nil, nil
	}
	_, v, err := d.DecodeData(data)
	if err != nil {
		return nil, err
	}
	ev, err := ToEvent(log.Signature, uint64(index), log.BlockTime, v)
	if err != nil {
		return nil, err
	}
	ev.Slot = log.Slot
	ev.Signature = log.Signature
	return &ev, nil
}

// ToEvent maps a decoded program event onto the exchange event model. The
// transaction signature and event index form the event id.
func ToEvent(signature string, index uint64, ts int64, v interface{}) (model.Event, error) {
	id := model.NewEventID(signature, index)
	build := func(kind model.EventKind, pool solana.PublicKey, payload interface{}) (model.Event, error) {
		return model.NewEvent(signature, index, kind, pool, ts, payload)
	}
	switch e := v.(type) {
	case *PoolCreated:
		return build(model.EventPoolCreated, e.Pool, model.PoolCreatedData{
			Pool:       e.Pool,
			Creator:    e.Creator,
			BaseMint:   e.BaseMint,
			QuoteMint:  e.QuoteMint,
			BaseFeeBps: uint32(e.FeeBps),
			BinStep:    e.BinStep,
			Active:     true,
		})
	case *PoolClosed:
		return build(model.EventPoolClosed, e.Pool, model.PoolClosedData{Pool: e.Pool, ReturnedBond: e.ReturnedBond})
	case *LiquidityAdded:
		return build(model.EventLiquidityAdded, e.Pool, model.LiquidityData{
			Pool:        e.Pool,
			Owner:       e.User,
			LowerBinID:  e.BinID,
			UpperBinID:  e.BinID,
			BaseAmount:  e.BaseAmount,
			QuoteAmount: e.QuoteAmount,
		})
	case *LiquidityRemoved:
		return build(model.EventLiquidityRemoved, e.Pool, model.LiquidityData{
			Pool:        e.Pool,
			Owner:       e.User,
			BaseAmount:  e.BaseAmount,
			QuoteAmount: e.QuoteAmount,
		})
	case *SwapExecuted:
		return build(model.EventSwapExecuted, e.Pool, model.SwapRecord{
			EventID:     id,
			Pool:        e.Pool,
			Trader:      e.User,
			InMint:      e.InMint,
			InAmount:    e.InAmount,
			OutMint:     e.OutMint,
			OutAmount:   e.OutAmount,
			FeeBps:      uint32(e.FeeBps),
			ProtocolFee: e.ProtocolFee,
			Timestamp:   ts,
		})
	case *FeeRecorded:
		return build(model.EventFeeRecorded, e.Pool, model.FeeRecord{
			EventID:   id,
			Pool:      e.Pool,
			Mint:      e.Mint,
			Amount:    e.Amount,
			Timestamp: e.Timestamp,
		})
	case *Harvested:
		return build(model.EventHarvested, solana.PublicKey{}, model.BuybackRecord{
			EventID:   id,
			Timestamp: ts,
			TotalIn:   e.TotalIn,
			NativeOut: e.NativeOut,
			Burned:    e.Burned,
			ToStakers: e.ToStakers,
			ToOps:     e.ToOps,
		})
	case *Staked:
		return build(model.EventStaked, solana.PublicKey{}, model.StakeData{Owner: e.User, Amount: e.Amount, Tier: e.NewTier})
	case *Unstaked:
		return build(model.EventUnstaked, solana.PublicKey{}, model.StakeData{Owner: e.User, Amount: e.Amount})
	case *RewardsClaimed:
		return build(model.EventRewardsClaimed, solana.PublicKey{}, model.StakeData{Owner: e.User, Amount: e.Amount})
	default:
		return model.Event{}, fmt.Errorf("unsupported event type %T", v)
	}
}
