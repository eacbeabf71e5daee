// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Ref    string            `json:"ref"`
	After  string            `json:"after"`
	Axes   map[string]string `json:"axes,omitempty"`
	Count  int               `json:"count"`
	hidden string
}

func TestMarshalIsDeterministic(t *testing.T) {
	t.Parallel()

	value := sample{
		Ref:   "refs/heads/main",
		After: "a1b2c3",
		Axes:  map[string]string{"profile": "release", "os": "linux"},
		Count: 6,
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal (iteration %d): %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x vs %x", first, again)
		}
	}
}

func TestRoundTripUsesJSONTags(t *testing.T) {
	t.Parallel()

	value := sample{Ref: "refs/heads/main", After: "deadbeef", Count: 2}
	data, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sample
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Ref != value.Ref || decoded.After != value.After || decoded.Count != value.Count {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, value)
	}

	// Field names on the wire come from the json tags.
	var raw map[string]any
	if err := Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map: %v", err)
	}
	if _, ok := raw["ref"]; !ok {
		t.Fatalf("wire encoding missing json-tagged key %q: %v", "ref", raw)
	}
}

func TestDecodeToAnyUsesStringKeyedMaps(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(sample{Ref: "refs/heads/main", Count: i}); err != nil {
			t.Fatalf("Encode item %d: %v", i, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := 0; i < 3; i++ {
		var item sample
		if err := decoder.Decode(&item); err != nil {
			t.Fatalf("Decode item %d: %v", i, err)
		}
		if item.Count != i {
			t.Fatalf("item %d Count = %d, want %d", i, item.Count, i)
		}
	}
}
