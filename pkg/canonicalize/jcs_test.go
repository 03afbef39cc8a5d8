package canonicalize

import (
	"testing"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCS(map[string]interface{}{"b": 1, "a": 2, "c": 3})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]interface{}{"k": "<dose> & </dose>"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"k":"<dose> & </dose>"}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestJCSRespectsStructTags(t *testing.T) {
	type rec struct {
		StepName string `json:"step_name"`
		PrevHash string `json:"prev_hash"`
	}
	out, err := JCS(rec{StepName: "Kinetics", PrevHash: "GENESIS_CHAIN"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"prev_hash":"GENESIS_CHAIN","step_name":"Kinetics"}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestCanonicalHashDeterministic(t *testing.T) {
	a, err := CanonicalHash(map[string]interface{}{"x": "1", "y": "2"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalHash(map[string]interface{}{"y": "2", "x": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("hash should not depend on key order: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 256-bit hex digest, got %d chars", len(a))
	}
}

func TestJCSNested(t *testing.T) {
	out, err := JCS(map[string]interface{}{
		"votes": []interface{}{map[string]interface{}{"b": true, "a": nil}},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"votes":[{"a":null,"b":true}]}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}
