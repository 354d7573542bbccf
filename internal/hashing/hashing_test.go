package hashing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestIdentifyDeterministic(t *testing.T) {
	data := []byte("the same bytes every time")

	id1, err := Identify(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := Identify(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id1 != id2 {
		t.Errorf("identity not stable across calls: %s != %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("identity length = %d, want 64", len(id1))
	}
	if !IsValidIdentity(id1) {
		t.Errorf("Identify produced an invalid identity: %s", id1)
	}
}

func TestIdentifyKnownVector(t *testing.T) {
	// SHA-256 of "abc" is a fixed public test vector.
	id, err := Identify([]byte("abc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if id != want {
		t.Errorf("Identify(abc) = %s, want %s", id, want)
	}
}

func TestIdentifyEmpty(t *testing.T) {
	if _, err := Identify(nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Identify(nil) error = %v, want ErrEmptyInput", err)
	}
	if _, err := Identify([]byte{}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Identify(empty) error = %v, want ErrEmptyInput", err)
	}
}

func TestIdentifyDistinctInputs(t *testing.T) {
	id1, _ := Identify([]byte("one"))
	id2, _ := Identify([]byte("two"))
	if id1 == id2 {
		t.Errorf("different inputs produced the same identity: %s", id1)
	}
}

func TestHashFileMatchesIdentify(t *testing.T) {
	data := []byte("file contents for hashing")
	path := filepath.Join(t.TempDir(), "sample.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	fromFile, err := HashFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fromBytes, _ := Identify(data)
	if fromFile != fromBytes {
		t.Errorf("HashFile = %s, Identify = %s", fromFile, fromBytes)
	}
}

func TestHashFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if _, err := HashFile(path); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("HashFile(empty) error = %v, want ErrEmptyInput", err)
	}
}

func TestIsValidIdentity(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid lowercase hex", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", true},
		{"too short", "abc123", false},
		{"too long", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad00", false},
		{"uppercase rejected", "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD", false},
		{"non-hex characters", "zz7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", false},
		{"empty", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidIdentity(tc.input); got != tc.want {
				t.Errorf("IsValidIdentity(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
