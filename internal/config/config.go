package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"binExchange/internal/exchange"
	"binExchange/internal/feetier"
	"binExchange/internal/treasury"
)

// Protocol holds the protocol-wide constants shared by every command.
type Protocol struct {
	Params     exchange.Params
	Tiers      []feetier.Tier
	Split      treasury.Split
	NativeMint solana.PublicKey
}

// Storage selects where records and applied event ids live.
type Storage struct {
	Kind        string
	PGDSN       string
	LevelDBPath string
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageLevelDB  = "leveldb"
)

// newViper merges config file, environment variables, and flags.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setProtocolDefaults(v)
	v.SetDefault("log-level", "info")
	v.SetDefault("store", StorageMemory)
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func setProtocolDefaults(v *viper.Viper) {
	d := exchange.DefaultParams()
	split := treasury.DefaultSplit()
	v.SetDefault("program-id", d.ProgramID.String())
	v.SetDefault("bond-amount", d.BondAmount)
	v.SetDefault("min-fee-bps", d.MinFeeBps)
	v.SetDefault("max-fee-bps", d.MaxFeeBps)
	v.SetDefault("min-bin-step", d.MinBinStep)
	v.SetDefault("max-bin-step", d.MaxBinStep)
	v.SetDefault("max-bin-offset", d.MaxBinOffset)
	v.SetDefault("protocol-share-bps", d.ProtocolShareBps)
	v.SetDefault("native-mint", solana.SolMint.String())
	v.SetDefault("stake-decimals", 6)
	v.SetDefault("split.burn_bps", split.BurnBps)
	v.SetDefault("split.stakers_bps", split.StakersBps)
	v.SetDefault("split.ops_bps", split.OpsBps)
}

// LoadProtocol reads the protocol constants. The tier table comes from the
// "tiers" list when set, otherwise the default table scaled by
// stake-decimals.
func LoadProtocol(v *viper.Viper) (Protocol, error) {
	programID, err := solana.PublicKeyFromBase58(v.GetString("program-id"))
	if err != nil {
		return Protocol{}, fmt.Errorf("program-id: %w", err)
	}
	native, err := solana.PublicKeyFromBase58(v.GetString("native-mint"))
	if err != nil {
		return Protocol{}, fmt.Errorf("native-mint: %w", err)
	}
	p := Protocol{
		Params: exchange.Params{
			ProgramID:        programID,
			BondAmount:       v.GetUint64("bond-amount"),
			MinFeeBps:        v.GetUint32("min-fee-bps"),
			MaxFeeBps:        v.GetUint32("max-fee-bps"),
			MinBinStep:       v.GetUint16("min-bin-step"),
			MaxBinStep:       v.GetUint16("max-bin-step"),
			MaxBinOffset:     v.GetInt32("max-bin-offset"),
			ProtocolShareBps: v.GetUint32("protocol-share-bps"),
		},
		NativeMint: native,
	}
	if err := p.Params.Validate(); err != nil {
		return Protocol{}, err
	}

	if v.IsSet("tiers") {
		if err := v.UnmarshalKey("tiers", &p.Tiers); err != nil {
			return Protocol{}, fmt.Errorf("tiers: %w", err)
		}
	} else {
		p.Tiers = feetier.DefaultTiers(uint8(v.GetUint("stake-decimals")))
	}
	if _, err := feetier.NewTable(p.Tiers); err != nil {
		return Protocol{}, err
	}

	if err := v.UnmarshalKey("split", &p.Split); err != nil {
		return Protocol{}, fmt.Errorf("split: %w", err)
	}
	if err := p.Split.Validate(); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

func loadStorage(v *viper.Viper) (Storage, error) {
	s := Storage{
		Kind:        strings.ToLower(v.GetString("store")),
		PGDSN:       v.GetString("pg-dsn"),
		LevelDBPath: v.GetString("leveldb"),
	}
	switch s.Kind {
	case StorageMemory:
	case StoragePostgres:
		if s.PGDSN == "" {
			return Storage{}, fmt.Errorf("pg-dsn is required for postgres storage")
		}
	case StorageLevelDB:
		if s.LevelDBPath == "" {
			return Storage{}, fmt.Errorf("leveldb path is required for leveldb storage")
		}
	default:
		return Storage{}, fmt.Errorf("unknown store %q", s.Kind)
	}
	return s, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (int64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return tm.Unix(), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

// windowSeconds parses a duration such as "5m" into whole seconds.
func windowSeconds(input string) (int64, error) {
	d, err := time.ParseDuration(input)
	if err != nil {
		return 0, fmt.Errorf("invalid window: %w", err)
	}
	secs := int64(d / time.Second)
	if secs <= 0 {
		return 0, fmt.Errorf("window must be at least 1s")
	}
	return secs, nil
}
