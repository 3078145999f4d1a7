package resource

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/convergekit/converge/faults"
)

func TestCanonicalizeUnifiesNumericTypes(t *testing.T) {
	local := map[string]any{"replicas": 3, "ratio": 1.5}
	remote := map[string]any{"replicas": float64(3), "ratio": json.Number("1.5")}

	equal, err := Equivalent(local, remote)
	if err != nil {
		t.Fatalf("Equivalent: %v", err)
	}
	if !equal {
		t.Fatalf("expected numerically equal payloads to compare equal")
	}
}

func TestCanonicalizeRejectsNonFiniteFloat(t *testing.T) {
	_, err := Canonicalize(map[string]any{"bad": math.Inf(1)})
	if !faults.IsCategory(err, faults.BackendRejected) {
		t.Fatalf("expected BackendRejected, got %v", err)
	}
}

func TestCanonicalizeRejectsUnsupportedType(t *testing.T) {
	type opaque struct{}
	_, err := Canonicalize(map[string]any{"bad": opaque{}})
	if err == nil {
		t.Fatalf("expected an error for unsupported payload type")
	}
}

func TestCanonicalizeNestedCollections(t *testing.T) {
	value, err := Canonicalize(map[string]any{
		"items": []any{uint8(2), int32(4)},
	})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	object := value.(map[string]any)
	items := object["items"].([]any)
	if items[0] != int64(2) || items[1] != int64(4) {
		t.Fatalf("expected int64 items, got %#v", items)
	}
}
