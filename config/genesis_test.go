package config

import "testing"

func TestGenesis_Validate_MainnetValid(t *testing.T) {
	g := MainnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("mainnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_TestnetValid(t *testing.T) {
	g := TestnetGenesis()
	if err := g.Validate(); err != nil {
		t.Errorf("testnet genesis should be valid: %v", err)
	}
}

func TestGenesis_Validate_RejectsUnknownPoWHash(t *testing.T) {
	g := MainnetGenesis()
	g.Protocol.Consensus.PoWHash = "sha256"
	if err := g.Validate(); err == nil {
		t.Error("expected error for unknown pow_hash")
	}
}

func TestSubsidy_Halves(t *testing.T) {
	if Subsidy(0) != InitialSubsidy {
		t.Errorf("height 0 subsidy = %d, want %d", Subsidy(0), InitialSubsidy)
	}
	if Subsidy(HalvingInterval-1) != InitialSubsidy {
		t.Errorf("height %d subsidy = %d, want %d", HalvingInterval-1, Subsidy(HalvingInterval-1), InitialSubsidy)
	}
	if Subsidy(HalvingInterval) != InitialSubsidy/2 {
		t.Errorf("height %d subsidy = %d, want %d", HalvingInterval, Subsidy(HalvingInterval), InitialSubsidy/2)
	}
}

func TestSubsidy_ZeroAfterMaxHalvings(t *testing.T) {
	if Subsidy(HalvingInterval*MaxHalvings) != 0 {
		t.Error("subsidy should be zero after max halvings")
	}
}
