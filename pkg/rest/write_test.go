package rest

import (
	"encoding/json"
	"testing"

	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     schema.ScalarType
		in      any
		want    any
		wantErr bool
	}{
		{"bigint keeps precision", schema.TypeInteger, json.Number("9007199254740993"), int64(9007199254740993), false},
		{"negative integer", schema.TypeInteger, json.Number("-42"), int64(-42), false},
		{"whole float as integer", schema.TypeInteger, json.Number("3.0"), int64(3), false},
		{"fraction as integer", schema.TypeInteger, json.Number("3.5"), nil, true},
		{"integer overflow", schema.TypeInteger, json.Number("1e30"), nil, true},
		{"string as integer", schema.TypeInteger, "3", nil, true},
		{"float", schema.TypeFloat, json.Number("2.5"), 2.5, false},
		{"numeric", schema.TypeNumeric, json.Number("10"), 10.0, false},
		{"boolean", schema.TypeBoolean, true, true, false},
		{"text", schema.TypeText, "hi", "hi", false},
		{"null", schema.TypeInteger, nil, nil, false},
		{"json passes through", schema.TypeJSON, map[string]any{"n": json.Number("1")}, map[string]any{"n": json.Number("1")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := attributeValue(schema.Attribute{Name: "v", Column: "v", Type: tt.typ}, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
