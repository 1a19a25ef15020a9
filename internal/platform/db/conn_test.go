package db

import (
	"context"
	"testing"
)

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoPool(t *testing.T) {
	called := false
	err := WithTx(context.Background(), nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error when pool is nil")
	}
	if called {
		t.Error("fn must not run without a pool")
	}
}

func TestSchemaPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"public", true},
		{"dentaliq", true},
		{"clinic_1", true},
		{"_private", true},
		{"1clinic", false},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"", false},
		{"drop;table", false},
	}

	for _, tt := range tests {
		got := schemaPattern.MatchString(tt.input)
		if got != tt.valid {
			t.Errorf("schemaPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}
