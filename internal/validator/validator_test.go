package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	var nilPtr *int
	var nilMap map[string]int
	n := 1

	tests := []struct {
		name    string
		deps    []any
		wantErr bool
	}{
		{name: "all set", deps: []any{&n, "bucket", 10, map[string]int{}}},
		{name: "untyped nil", deps: []any{&n, nil}, wantErr: true},
		{name: "typed nil pointer", deps: []any{nilPtr}, wantErr: true},
		{name: "nil map", deps: []any{nilMap}, wantErr: true},
		{name: "empty string", deps: []any{""}, wantErr: true},
		{name: "zero int", deps: []any{0}, wantErr: true},
		{name: "no deps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("component", tt.deps...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "component")
				return
			}
			require.NoError(t, err)
		})
	}
}
