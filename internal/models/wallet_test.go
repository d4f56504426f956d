package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestWalletJSONCarriesAvailableBalance(t *testing.T) {
	w := &Wallet{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Balance:      decimal.NewFromInt(800),
		LockedAmount: decimal.NewFromInt(200),
	}

	raw, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	avail, ok := got["available_balance"]
	if !ok {
		t.Fatal("wallet JSON must carry available_balance")
	}
	var d decimal.Decimal
	if err := json.Unmarshal(avail, &d); err != nil {
		t.Fatalf("available_balance: %v", err)
	}
	if !d.Equal(w.AvailableBalance()) {
		t.Errorf("available_balance: got %s, want %s", d, w.AvailableBalance())
	}
	// The stored columns still serialize alongside the derived field.
	for _, key := range []string{"balance", "locked_amount", "total_deposited", "total_donated"} {
		if _, ok := got[key]; !ok {
			t.Errorf("wallet JSON missing %q", key)
		}
	}
}
