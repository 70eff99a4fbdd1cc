package canon

import (
	"bytes"
	"testing"
)

func TestCanonicalizeKeyOrder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"simple object",
			`{"b":2,"a":1}`,
			`{"a":1,"b":2}`,
		},
		{
			"nested object",
			`{"z":{"y":true,"x":false},"a":[3,2,1]}`,
			`{"a":[3,2,1],"z":{"x":false,"y":true}}`,
		},
		{
			"whitespace stripped",
			"{\n  \"k\" : [ 1 , 2 ]\n}",
			`{"k":[1,2]}`,
		},
		{
			"unicode keys by utf16 code unit",
			`{"é":1,"e":2}`,
			`{"e":2,"é":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizeJSON([]byte(tt.in))
			if err != nil {
				t.Fatalf("CanonicalizeJSON: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeNumbers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"integer", `{"n":42}`, `{"n":42}`},
		{"negative zero collapses", `{"n":-0}`, `{"n":0}`},
		{"trailing zeros dropped", `{"n":1.5000}`, `{"n":1.5}`},
		{"shortest round trip", `{"n":0.1}`, `{"n":0.1}`},
		{"large magnitude exponent", `{"n":1e21}`, `{"n":1e+21}`},
		{"small magnitude exponent", `{"n":0.0000001}`, `{"n":1e-7}`},
		{"plain just under cutoff", `{"n":0.000001}`, `{"n":0.000001}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizeJSON([]byte(tt.in))
			if err != nil {
				t.Fatalf("CanonicalizeJSON: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	in := []byte(`{"seed":42,"asset_id":"laser-01","outputs":[{"kind":"audio","format":"wav","path":"laser.wav"}],"nested":{"b":1.25,"a":"x\ny"}}`)

	once, err := CanonicalizeJSON(in)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := CanonicalizeJSON(once)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !bytes.Equal(once, twice) {
		t.Errorf("canonicalization not idempotent:\n%s\n%s", once, twice)
	}
}

func TestCanonicalizeStringEscaping(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{"s":"aA\n"}`))
	if err != nil {
		t.Fatalf("CanonicalizeJSON: %v", err)
	}
	want := `{"s":"aA\n"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestSpecHashStable(t *testing.T) {
	// Key order and whitespace must not affect the hash.
	a := []byte(`{"b": 2, "a": 1}`)
	b := []byte(`{"a":1,"b":2}`)

	ha, err := SpecHash(a)
	if err != nil {
		t.Fatalf("SpecHash: %v", err)
	}
	hb, err := SpecHash(b)
	if err != nil {
		t.Fatalf("SpecHash: %v", err)
	}
	if ha != hb {
		t.Errorf("hash differs across equivalent specs: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d, want 64", len(ha))
	}
	for _, c := range ha {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("hash contains non-lowercase-hex char %q", c)
		}
	}
}

func TestDeriveSeedsDistinct(t *testing.T) {
	base := uint32(42)

	seen := map[uint32]int{}
	for i := uint32(0); i < 64; i++ {
		seen[DeriveLayerSeed(base, i)]++
	}
	if len(seen) != 64 {
		t.Errorf("layer seed collisions: %d distinct of 64", len(seen))
	}

	if DeriveVariantSeed(base, "n") == DeriveVariantSeed(base, "m") {
		t.Error("variant seeds for distinct ids collide")
	}
	if DeriveVariantSeed(base, "n") != DeriveVariantSeed(base, "n") {
		t.Error("variant seed not deterministic")
	}
	if DeriveVariantSpecSeed(base, 0, "n") == DeriveVariantSpecSeed(base, 1, "n") {
		t.Error("variant spec seeds for distinct offsets collide")
	}
}

func TestDeriveSeedBoundaries(t *testing.T) {
	// Both ends of the u32 seed range are valid bases.
	_ = DeriveLayerSeed(0, 0)
	_ = DeriveLayerSeed(0xFFFFFFFF, 0xFFFFFFFF)
	_ = DeriveVariantSeed(0xFFFFFFFF, "")
}
