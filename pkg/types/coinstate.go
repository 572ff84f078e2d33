package types

import "encoding/json"

// CoinState identifies the lifecycle stage of a transaction output.
type CoinState uint8

const (
	// Spendable is the default state: the coin may be spent by any
	// transaction kind that accepts spendable inputs.
	Spendable CoinState = iota
	// Certified marks a coin produced by an ASSIGN_CERT transaction. Only
	// ASSIGN_COMPENSATION transactions may spend it.
	Certified
	// Compensated marks a coin that has been retired. It is never
	// spendable again.
	Compensated
)

// String returns a human-readable name for the coin state.
func (c CoinState) String() string {
	switch c {
	case Spendable:
		return "SPENDABLE"
	case Certified:
		return "CERTIFIED"
	case Compensated:
		return "COMPENSATED"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the coin state as its string name.
func (c CoinState) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a coin state from its string name.
func (c *CoinState) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "SPENDABLE":
		*c = Spendable
	case "CERTIFIED":
		*c = Certified
	case "COMPENSATED":
		*c = Compensated
	default:
		*c = Spendable
	}
	return nil
}
