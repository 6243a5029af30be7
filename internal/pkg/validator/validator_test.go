package validator

import "testing"

type reserveInput struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"required"`
}

type grantInput struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Type   string `json:"type" validate:"credit_tx_type"`
}

func TestStructValid(t *testing.T) {
	if details := Struct(reserveInput{Amount: 10, Description: "track generation"}); details != nil {
		t.Fatalf("expected no validation errors, got %v", details)
	}
}

func TestStructRequiredAndBounds(t *testing.T) {
	details := Struct(reserveInput{Amount: 0, Description: ""})
	if details == nil {
		t.Fatal("expected validation errors")
	}
	if _, ok := details["amount"]; !ok {
		t.Errorf("expected error keyed by json tag 'amount', got %v", details)
	}
	if _, ok := details["description"]; !ok {
		t.Errorf("expected error for description, got %v", details)
	}
}

func TestCreditTxType(t *testing.T) {
	cases := []struct {
		txType string
		ok     bool
	}{
		{"topup", true},
		{"purchase", true},
		{"gift_receive", true},
		{"refund", true},
		{"deduction", false},
		{"initial", false},
		{"bogus", false},
	}

	for _, tc := range cases {
		details := Struct(grantInput{Amount: 5, Type: tc.txType})
		if tc.ok && details != nil {
			t.Errorf("type %q: expected valid, got %v", tc.txType, details)
		}
		if !tc.ok && details == nil {
			t.Errorf("type %q: expected validation error", tc.txType)
		}
	}
}
