package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name    string
		mdName  string
		symbol  string
		uri     string
		wantErr bool
	}{
		{"valid", "Solana Gold", "GOLDSOL", "https://example.com/token.json", false},
		{"empty uri allowed", "Solana Gold", "GOLDSOL", "", false},
		{"max lengths", strings.Repeat("n", MaxNameLength), strings.Repeat("s", MaxSymbolLength), strings.Repeat("u", MaxURILength), false},
		{"missing name", "", "GOLDSOL", "", true},
		{"missing symbol", "Solana Gold", "", "", true},
		{"long name", strings.Repeat("n", MaxNameLength+1), "GOLDSOL", "", true},
		{"long symbol", "Solana Gold", strings.Repeat("s", MaxSymbolLength+1), "", true},
		{"long uri", "Solana Gold", "GOLDSOL", strings.Repeat("u", MaxURILength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetadata(tt.mdName, tt.symbol, tt.uri)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMetadata)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
