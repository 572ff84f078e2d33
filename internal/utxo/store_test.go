package utxo

import (
	"testing"

	"github.com/co2chain/co2chain/internal/storage"
	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func makeOutpoint(data string, index uint32) types.Outpoint {
	return types.Outpoint{
		TxID:  crypto.Hash256([]byte(data)),
		Index: index,
	}
}

func makeUTXO(data string, index uint32, value uint64) *UTXO {
	return &UTXO{
		Outpoint:  makeOutpoint(data, index),
		Value:     value,
		Address:   types.Address{0x01, 0x02, 0x03, 0x04, 0x05},
		CoinState: types.Spendable,
		Height:    1,
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 5000)

	if err := s.Put(u); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := s.Get(u.Outpoint)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if got.Value != u.Value {
		t.Errorf("Value = %d, want %d", got.Value, u.Value)
	}
	if got.Outpoint != u.Outpoint {
		t.Error("Outpoint mismatch")
	}
	if got.Height != u.Height {
		t.Errorf("Height = %d, want %d", got.Height, u.Height)
	}
}

func TestStore_GetNonexistent(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(makeOutpoint("missing", 0))
	if err == nil {
		t.Error("Get() for nonexistent UTXO should return error")
	}
}

func TestStore_Has(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("Has() should be false before Put()")
	}

	s.Put(u)

	ok, err := s.Has(u.Outpoint)
	if err != nil {
		t.Fatalf("Has() error: %v", err)
	}
	if !ok {
		t.Error("Has() should be true after Put()")
	}
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	s.Put(u)

	if err := s.Delete(u.Outpoint); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("UTXO should be gone after Delete()")
	}
}

func TestStore_MultipleOutputs(t *testing.T) {
	s := testStore(t)

	u0 := makeUTXO("tx1", 0, 1000)
	u1 := makeUTXO("tx1", 1, 2000)
	u2 := makeUTXO("tx1", 2, 3000)

	s.Put(u0)
	s.Put(u1)
	s.Put(u2)

	got0, _ := s.Get(u0.Outpoint)
	got1, _ := s.Get(u1.Outpoint)
	got2, _ := s.Get(u2.Outpoint)

	if got0.Value != 1000 || got1.Value != 2000 || got2.Value != 3000 {
		t.Error("values mismatch for multi-output tx")
	}

	s.Delete(u1.Outpoint)

	ok, _ := s.Has(u1.Outpoint)
	if ok {
		t.Error("deleted output should be gone")
	}

	ok0, _ := s.Has(u0.Outpoint)
	ok2, _ := s.Has(u2.Outpoint)
	if !ok0 || !ok2 {
		t.Error("non-deleted outputs should remain")
	}
}

func TestStore_ImplementsSet(t *testing.T) {
	// Compile-time check that Store satisfies Set.
	var _ Set = (*Store)(nil)
}

func TestStore_ForEach(t *testing.T) {
	s := testStore(t)
	s.Put(makeUTXO("tx1", 0, 1000))
	s.Put(makeUTXO("tx2", 0, 2000))
	s.Put(makeUTXO("tx3", 0, 3000))

	var total uint64
	count := 0
	err := s.ForEach(func(u *UTXO) error {
		total += u.Value
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != 3 {
		t.Errorf("ForEach visited %d utxos, want 3", count)
	}
	if total != 6000 {
		t.Errorf("ForEach total = %d, want 6000", total)
	}
}

func TestStore_GetByAddress(t *testing.T) {
	s := testStore(t)
	addrA := types.Address{0xaa}
	addrB := types.Address{0xbb}

	u1 := makeUTXO("tx1", 0, 1000)
	u1.Address = addrA
	u2 := makeUTXO("tx2", 0, 2000)
	u2.Address = addrA
	u3 := makeUTXO("tx3", 0, 3000)
	u3.Address = addrB

	s.Put(u1)
	s.Put(u2)
	s.Put(u3)

	got, err := s.GetByAddress(addrA)
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByAddress(addrA) = %d utxos, want 2", len(got))
	}

	gotB, err := s.GetByAddress(addrB)
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if len(gotB) != 1 {
		t.Fatalf("GetByAddress(addrB) = %d utxos, want 1", len(gotB))
	}
}

func TestStore_GetByCertificate(t *testing.T) {
	s := testStore(t)

	u1 := makeUTXO("tx1", 0, 1000)
	u1.CoinState = types.Certified
	u1.CertificateID = "cert-1"
	u2 := makeUTXO("tx2", 0, 2000)
	u2.CoinState = types.Certified
	u2.CertificateID = "cert-1"
	u3 := makeUTXO("tx3", 0, 3000)
	u3.CoinState = types.Certified
	u3.CertificateID = "cert-2"

	s.Put(u1)
	s.Put(u2)
	s.Put(u3)

	got, err := s.GetByCertificate("cert-1")
	if err != nil {
		t.Fatalf("GetByCertificate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByCertificate(cert-1) = %d utxos, want 2", len(got))
	}
}

func TestStore_ClearAll(t *testing.T) {
	s := testStore(t)
	s.Put(makeUTXO("tx1", 0, 1000))
	s.Put(makeUTXO("tx2", 0, 2000))

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	count := 0
	s.ForEach(func(u *UTXO) error {
		count++
		return nil
	})
	if count != 0 {
		t.Errorf("store should be empty after ClearAll, got %d entries", count)
	}
}

func TestStore_DeleteRemovesAddressIndex(t *testing.T) {
	s := testStore(t)
	addr := types.Address{0xcc}
	u := makeUTXO("tx1", 0, 1000)
	u.Address = addr

	s.Put(u)
	s.Delete(u.Outpoint)

	got, err := s.GetByAddress(addr)
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("address index should be cleaned up after delete, got %d entries", len(got))
	}
}
