package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Denomination constants. 1 coin = 10^8 base units ("satoshi-like" units).
const (
	Decimals = 8
	Coin     = 100_000_000
)

// CoinbaseMaturity is the number of blocks a coinbase output must wait
// before it can be spent. Prevents issues during reorgs.
const CoinbaseMaturity uint32 = 100

// Subsidy schedule.
const (
	InitialSubsidy  = 50 * Coin // Base units paid to the coinbase at height 0.
	HalvingInterval = 210_000   // Blocks between reward halvings.
	MaxHalvings     = 64        // Subsidy is zero after this many halvings.
)

// MaxMoney is the maximum possible number of base units that can ever exist.
const MaxMoney = 21_000_000 * Coin

// Retarget parameters.
const (
	TargetBlockTimeSeconds = 600  // 10 minutes between blocks.
	RetargetInterval       = 2016 // Blocks between difficulty retargets.
	RetargetClamp          = 4    // Actual timespan clamped to [T/clamp, T*clamp].
	MedianTimeSpan         = 11   // Blocks used for the median-past-time rule.
	MaxFutureDriftSeconds  = 2 * 60 * 60
)

// MinRelayFee is the minimum fee rate, in base units per byte of
// SigningBytes, accepted by the mempool.
const MinRelayFee = 1

// MinAbsoluteFee is the minimum absolute fee, in base units, accepted by the
// mempool regardless of transaction size — a separate floor from
// MinRelayFee so a tiny transaction can't slip in on its size alone.
const MinAbsoluteFee = 1000

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockBytes = 4 * 1024 * 1024 // 4 MiB.
	MaxBlockTxs   = 2000
	MaxTxInputs   = 2500
	MaxTxOutputs  = 2500
	MaxMetadata   = 65_536 // 64 KB max metadata payload per transaction.
)

// CanonicalBurnAddressPayload is the fixed 20-byte payload BURN transactions
// pay to. It is the byte pattern DEADBEEF repeated five times; no public key
// is known whose HASH160 equals it, so outputs sent here can never be
// reclaimed as SPENDABLE.
var CanonicalBurnAddressPayload = [types.AddressSize]byte{
	0xDE, 0xAD, 0xBE, 0xEF, 0xDE, 0xAD, 0xBE, 0xEF, 0xDE, 0xAD,
	0xBE, 0xEF, 0xDE, 0xAD, 0xBE, 0xEF, 0xDE, 0xAD, 0xBE, 0xEF,
}

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch — changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	// Genesis block
	Timestamp uint32 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (address -> balance in base units)
	Alloc map[string]uint64 `json:"alloc"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// ProtocolConfig holds consensus-critical rules.
// All nodes MUST agree on these values.
type ProtocolConfig struct {
	Consensus ConsensusRules `json:"consensus"`
}

// ConsensusRules defines how blocks are produced and validated. Every field
// here is frozen at genesis: a running chain can never change them without
// a hard fork.
type ConsensusRules struct {
	// GenesisBits is the starting compact-encoded target.
	GenesisBits uint32 `json:"genesis_bits"`

	// PoWHash selects the proof-of-work hash function: "scrypt" (default)
	// or "argon2id". Fixed per chain at genesis.
	PoWHash crypto.PoWAlgo `json:"pow_hash"`

	// MinFeeRate is the minimum fee rate (base units per SigningBytes byte)
	// the mempool accepts, applied uniformly to every transaction kind.
	MinFeeRate uint64 `json:"min_fee_rate"`

	// MinAbsoluteFee is the minimum absolute fee (base units) the mempool
	// accepts, independent of MinFeeRate. Both checks apply: a transaction
	// must clear the per-byte rate AND this floor.
	MinAbsoluteFee uint64 `json:"min_absolute_fee"`
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "co2chain-mainnet-1",
		ChainName: "CO2 Ledger Mainnet",
		Symbol:    "CO2",
		Timestamp: 1770734103, // 2026-02-10
		ExtraData: "CO2 ledger genesis",
		Alloc:     map[string]uint64{},
		Protocol: ProtocolConfig{
			Consensus: ConsensusRules{
				GenesisBits:    0x1e0fffff,
				PoWHash:        crypto.PoWAlgoScrypt,
				MinFeeRate:     MinRelayFee,
				MinAbsoluteFee: MinAbsoluteFee,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "co2chain-testnet-1"
	g.ChainName = "CO2 Ledger Testnet"
	g.ExtraData = "CO2 ledger testnet genesis"
	g.Protocol.Consensus.GenesisBits = 0x1f00ffff // Easier testnet target.
	g.Protocol.Consensus.MinFeeRate = 1
	g.Protocol.Consensus.MinAbsoluteFee = 10
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}
	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Protocol.Consensus.GenesisBits == 0 {
		return fmt.Errorf("genesis_bits must be set")
	}
	switch g.Protocol.Consensus.PoWHash {
	case crypto.PoWAlgoScrypt, crypto.PoWAlgoArgon2id:
	default:
		return fmt.Errorf("unknown pow_hash: %s", g.Protocol.Consensus.PoWHash)
	}

	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		totalAlloc += v
	}
	if totalAlloc > MaxMoney {
		return fmt.Errorf("genesis allocations (%d) exceed max money (%d)", totalAlloc, MaxMoney)
	}

	return nil
}

// Hash returns a Hash256 digest of the genesis configuration. Used to
// identify the chain and detect genesis mismatches between peers.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash256(data), nil
}

// Subsidy computes the coinbase reward at the given height.
// subsidy(height) = InitialSubsidy >> (height / HalvingInterval), zero
// after MaxHalvings halvings.
func Subsidy(height uint32) uint64 {
	halvings := height / HalvingInterval
	if halvings >= MaxHalvings {
		return 0
	}
	return InitialSubsidy >> halvings
}
