package query

import "testing"

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"known alias", "вес", "масса"},
		{"alias with min suffix", "вес_min", "масса_min"},
		{"alias with max suffix", "weight_max", "масса_max"},
		{"case insensitive", "Lifting_Capacity", "грузоподъемность"},
		{"yo variant", "грузоподъёмность_min", "грузоподъемность_min"},
		{"unknown passes through", "ширина_отвала", "ширина_отвала"},
		{"unknown with suffix", "ширина_min", "ширина_min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalKey(tt.in); got != tt.want {
				t.Errorf("CanonicalKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitRangeSuffix(t *testing.T) {
	tests := []struct {
		in         string
		wantBase   string
		wantSuffix string
	}{
		{"мощность_min", "мощность", "_min"},
		{"мощность_max", "мощность", "_max"},
		{"мощность", "мощность", ""},
	}
	for _, tt := range tests {
		base, suffix := SplitRangeSuffix(tt.in)
		if base != tt.wantBase || suffix != tt.wantSuffix {
			t.Errorf("SplitRangeSuffix(%q) = (%q, %q), want (%q, %q)",
				tt.in, base, suffix, tt.wantBase, tt.wantSuffix)
		}
	}
}

func TestConvertValue(t *testing.T) {
	if got := ConvertValue("масса", 1500); got != 1.5 {
		t.Errorf("масса: got %v, want 1.5", got)
	}
	if got := ConvertValue("масса_min", 2000); got != 2 {
		t.Errorf("range suffix should convert too: got %v, want 2", got)
	}
	if got := ConvertValue("грузоподъемность", 50); got != 50 {
		t.Errorf("field without conversion must pass through: got %v", got)
	}
	if got := ConvertValue("noSuchField", 7); got != 7 {
		t.Errorf("unknown field must pass through: got %v", got)
	}
}
