package expression

import (
	"encoding/json"
	"testing"

	"github.com/solatis/derivekeeper/internal/types"
)

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		wantValue float64
		wantErr   error
	}{
		{name: "float64 passthrough", value: 42.5, wantValue: 42.5},
		{name: "int to float64", value: 100, wantValue: 100},
		{name: "int64 to float64", value: int64(999), wantValue: 999},
		{name: "uint8 to float64", value: uint8(7), wantValue: 7},
		{name: "json.Number", value: json.Number("12.5"), wantValue: 12.5},
		{name: "numeric string", value: "25", wantValue: 25},
		{name: "string with whitespace", value: "  42  ", wantValue: 42},
		{name: "negative decimal string", value: "-3.5", wantValue: -3.5},
		{name: "scientific notation", value: "1e3", wantValue: 1000},
		{name: "non-numeric string fails", value: "abc", wantErr: types.ErrCoercionFailed},
		{name: "empty string fails", value: "", wantErr: types.ErrCoercionFailed},
		{name: "whitespace-only string fails", value: "   ", wantErr: types.ErrCoercionFailed},
		{name: "boolean fails (strict mode)", value: true, wantErr: types.ErrCoercionFailed},
		{name: "nil fails", value: nil, wantErr: types.ErrCoercionFailed},
		{name: "NaN string fails", value: "NaN", wantErr: types.ErrCoercionFailed},
		{name: "infinity string fails", value: "+Inf", wantErr: types.ErrCoercionFailed},
		{name: "object fails", value: map[string]any{"a": 1}, wantErr: types.ErrCoercionFailed},
		{name: "mixed string fails", value: "123abc", wantErr: types.ErrCoercionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceNumber(tt.value)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Errorf("CoerceNumber() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CoerceNumber() unexpected error = %v", err)
			}
			if got != tt.wantValue {
				t.Errorf("CoerceNumber() = %v, want %v", got, tt.wantValue)
			}
		})
	}
}
