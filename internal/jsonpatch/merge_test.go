package jsonpatch

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestMergeOverlaysTopLevelFields(testContext *testing.T) {
	testCases := []struct {
		name     string
		base     string
		patch    string
		expected map[string]any
	}{
		{
			name:     "patch flips flag",
			base:     `{"id":"r-1","title":"Permit","completed":false}`,
			patch:    `{"id":"r-1","completed":true}`,
			expected: map[string]any{"id": "r-1", "title": "Permit", "completed": true},
		},
		{
			name:     "empty base",
			base:     "",
			patch:    `{"name":"Ravi"}`,
			expected: map[string]any{"name": "Ravi"},
		},
		{
			name:     "dotted keys stay literal",
			base:     `{"a":1}`,
			patch:    `{"b.c":2}`,
			expected: map[string]any{"a": float64(1), "b.c": float64(2)},
		},
		{
			name:     "nested object replaced",
			base:     `{"meta":{"x":1,"y":2}}`,
			patch:    `{"meta":{"x":3}}`,
			expected: map[string]any{"meta": map[string]any{"x": float64(3)}},
		},
	}

	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			merged, err := Merge(testCase.base, testCase.patch)
			if err != nil {
				t.Fatalf("unexpected merge error: %v", err)
			}
			var decoded map[string]any
			if err := json.Unmarshal([]byte(merged), &decoded); err != nil {
				t.Fatalf("merged payload is not valid json: %v (%s)", err, merged)
			}
			if !reflect.DeepEqual(decoded, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, decoded)
			}
		})
	}
}

func TestMergeRejectsNonObjects(t *testing.T) {
	if _, err := Merge(`[1,2]`, `{"a":1}`); !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject for array base, got %v", err)
	}
	if _, err := Merge(`{"a":1}`, `not json`); !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject for invalid patch, got %v", err)
	}
}

func TestFieldReadsTopLevelValue(t *testing.T) {
	if got := Field(`{"id":"n-1"}`, "id"); got != "n-1" {
		t.Fatalf("expected n-1, got %q", got)
	}
	if got := Field(`{"id":1}`, "id"); got != "1" {
		t.Fatalf("expected numeric id rendered as 1, got %q", got)
	}
	if got := Field(`{"name":"x"}`, "id"); got != "" {
		t.Fatalf("expected empty for missing field, got %q", got)
	}
}
