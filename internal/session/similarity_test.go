package session

import "testing"

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		min  float64
		max  float64
	}{
		{"Identical", "Alice", "Alice", 1, 1},
		{"Case insensitive", "ALICE", "alice", 1, 1},
		{"Whitespace trimmed", " Alice ", "Alice", 1, 1},
		{"One OCR error", "A1ice", "Alice", 0.7, 0.95},
		{"Different names", "Alice", "Zebrafish", 0, 0.4},
		{"Empty side", "", "Alice", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Expected similarity in [%v, %v], got %v", tt.min, tt.max, got)
			}
		})
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a    string
		b    string
		want int
	}{
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q): expected %d, got %d", tt.a, tt.b, tt.want, got)
		}
	}
}
