package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Aribau 1º 2ª", "aribau 1 2"},
		{"aribau 1 2", "aribau 1 2"},
		{"Padilla 1º 3ª", "padilla 1 3"},
		{"LLULL, 3º-4ª", "llull 3 4"},
		{"Muntaner  240", "muntaner 240"},
		{"Gran Vía 123", "gran via 123"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.raw))
		})
	}
}

func TestNamesMatch(t *testing.T) {
	tests := []struct {
		name      string
		canonical string
		display   string
		want      bool
	}{
		{"identical", "Aribau 1º 2ª", "Aribau 1º 2ª", true},
		{"diacritics dropped", "Gran Vía 123", "Gran Via 123", true},
		{"ordinal markers dropped", "Padilla 1º 3ª", "padilla 1 3", true},
		{"display carries suffix", "Llull 3º 4ª", "Llull 3º 4ª (Barcelona)", true},
		{"different property", "Aribau 1º 2ª", "Aribau 2º 1ª", false},
		{"empty display", "Aribau 1º 2ª", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NamesMatch(tt.canonical, tt.display))
		})
	}
}
