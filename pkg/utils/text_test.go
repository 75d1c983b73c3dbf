package utils

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"dog on a beach", 60, "dog on a beach"},
		{"dog on a beach at sunset", 14, "dog on a beach..."},
		{"dog", 0, "dog"},
		{"dog", -1, "dog"},
		{"海辺の犬", 4, "海辺の犬"},
		{"海辺の犬と猫", 4, "海辺の犬..."},
		{"café au lait", 4, "café..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}
