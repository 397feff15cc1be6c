package models

import (
	"encoding/json"
	"math"
	"testing"
)

func TestTradeJSONFieldNames(t *testing.T) {
	trade := Trade{
		Type:            "trade",
		Exchange:        "Bybit",
		Base:            "BTC",
		Quote:           "USDT",
		Side:            SideBuy,
		Action:          ActionAdd,
		SequenceID:      1700000000000,
		Price:           95001,
		Quantity:        0.5,
		Seq:             1700000000000,
		ReportedAtNanos: 1700000000000 * 1_000_000,
	}

	data, err := json.Marshal(trade)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Expected valid JSON, got %v", err)
	}

	for _, key := range []string{"TYPE", "M", "FSYM", "TSYM", "SIDE", "ACTION", "CCSEQ", "P", "Q", "SEQ", "REPORTEDNS", "DELAYNS"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Expected key %s in %s", key, data)
		}
	}
	if len(fields) != 12 {
		t.Errorf("Expected 12 fields, got %d", len(fields))
	}
	if fields["SIDE"] != float64(1) {
		t.Errorf("Expected SIDE 1, got %v", fields["SIDE"])
	}
}

func TestTradeValidate(t *testing.T) {
	valid := Trade{Exchange: "Bybit", Base: "BTC", Quote: "USDT", Side: SideSell, Price: 1, Quantity: 0}

	tests := []struct {
		name    string
		mutate  func(*Trade)
		wantErr bool
	}{
		{"valid", func(*Trade) {}, false},
		{"zero price is allowed", func(tr *Trade) { tr.Price = 0 }, false},
		{"negative price", func(tr *Trade) { tr.Price = -1 }, true},
		{"NaN price", func(tr *Trade) { tr.Price = math.NaN() }, true},
		{"infinite quantity", func(tr *Trade) { tr.Quantity = math.Inf(1) }, true},
		{"unknown side", func(tr *Trade) { tr.Side = 3 }, true},
		{"missing base", func(tr *Trade) { tr.Base = "" }, true},
		{"missing exchange", func(tr *Trade) { tr.Exchange = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := valid
			tt.mutate(&tr)
			err := tr.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestActionString(t *testing.T) {
	tests := map[Action]string{
		ActionAdd:    "Add",
		ActionUpdate: "Update",
		ActionRemove: "Remove",
		Action(3):    "3",
		Action(99):   "99",
	}
	for action, want := range tests {
		if got := action.String(); got != want {
			t.Errorf("Expected %q for %d, got %q", want, int(action), got)
		}
	}
}

func TestSideFilterMatches(t *testing.T) {
	tests := []struct {
		filter SideFilter
		side   Side
		want   bool
	}{
		{FilterAll, SideBuy, true},
		{FilterAll, SideSell, true},
		{FilterBuy, SideBuy, true},
		{FilterBuy, SideSell, false},
		{FilterSell, SideSell, true},
		{FilterSell, SideBuy, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(tt.side); got != tt.want {
			t.Errorf("Expected %s.Matches(%s)=%v, got %v", tt.filter, tt.side, tt.want, got)
		}
	}
}

func TestFormatters(t *testing.T) {
	if got := FormatPrice(95001.5); got != "$95,001.50" {
		t.Errorf("Expected $95,001.50, got %s", got)
	}
	if got := FormatPrice(0.1); got != "$0.10" {
		t.Errorf("Expected $0.10, got %s", got)
	}
	if got := FormatQuantity(0.5); got != "0.500000" {
		t.Errorf("Expected 0.500000, got %s", got)
	}
	if got := FormatValue(QuantityBelow, 2); got != "2.000000" {
		t.Errorf("Expected 2.000000, got %s", got)
	}
}

func TestRuleSpecValidate(t *testing.T) {
	spec := RuleSpec{Label: "BTC spike", Symbol: "BTC", Condition: PriceAbove, Threshold: 95000, Side: FilterAll}
	if err := spec.Validate(); err != nil {
		t.Errorf("Expected valid spec, got %v", err)
	}

	spec.Condition = "price_between"
	if err := spec.Validate(); err == nil {
		t.Error("Expected error for unknown condition")
	}

	spec.Condition = PriceAbove
	spec.Side = "both"
	if err := spec.Validate(); err == nil {
		t.Error("Expected error for unknown side")
	}
}
