package vexel

import (
	"errors"
	"strings"
	"testing"
)

func TestGetAt(t *testing.T) {
	s := []byte{10, 20, 30}

	v, err := getAt(s, 1)
	if err != nil || v != 20 {
		t.Fatalf("getAt(s, 1) = %d, %v", v, err)
	}

	_, err = getAt(s, 3)
	if !errors.Is(err, ErrBounds) {
		t.Fatalf("getAt(s, 3) error = %v, want ErrBounds", err)
	}

	// The error names the offending index and the actual bound.
	if !strings.Contains(err.Error(), "3") || !strings.Contains(err.Error(), "length 3") {
		t.Errorf("error %q does not name index and bound", err)
	}

	if _, err := getAt(s, -1); !errors.Is(err, ErrBounds) {
		t.Errorf("getAt(s, -1) error = %v, want ErrBounds", err)
	}
}

func TestGetRange(t *testing.T) {
	s := []int{1, 2, 3, 4}

	r, err := getRange(s, 1, 3)
	if err != nil || len(r) != 2 || r[0] != 2 {
		t.Fatalf("getRange(s, 1, 3) = %v, %v", r, err)
	}

	if _, err := getRange(s, 2, 7); !errors.Is(err, ErrBounds) {
		t.Errorf("getRange(s, 2, 7) error = %v, want ErrBounds", err)
	}

	if _, err := getRange(s, 3, 2); !errors.Is(err, ErrBounds) {
		t.Errorf("getRange(s, 3, 2) error = %v, want ErrBounds", err)
	}

	// Empty range at the end is valid.
	if _, err := getRange(s, 4, 4); err != nil {
		t.Errorf("getRange(s, 4, 4) error = %v, want nil", err)
	}
}

func TestGetKey(t *testing.T) {
	m := map[string]int{"width": 640}

	v, err := getKey(m, "width")
	if err != nil || v != 640 {
		t.Fatalf("getKey(m, width) = %d, %v", v, err)
	}

	_, err = getKey(m, "height")
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("getKey(m, height) error = %v, want ErrMissingKey", err)
	}

	if !strings.Contains(err.Error(), "height") {
		t.Errorf("error %q does not name the missing key", err)
	}
}
