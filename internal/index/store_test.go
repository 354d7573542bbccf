package index

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
)

const (
	idA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	idC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

func testIdentity(n int) string {
	return fmt.Sprintf("%064x", n)
}

func unitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis%dim] = 1
	return v
}

func TestAddVectorIDDensity(t *testing.T) {
	s := NewStore(t.TempDir(), 4)

	const m = 20
	for i := 0; i < m; i++ {
		id, err := s.AddVector(KindText, unitVector(4, i), testIdentity(i))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != i {
			t.Errorf("vector id = %d, want %d", id, i)
		}
	}
	if got := s.TextVectorCount(); got != m {
		t.Errorf("TextVectorCount = %d, want %d", got, m)
	}
	for i := 0; i < m; i++ {
		identity, ok := s.Identity(KindText, i)
		if !ok || identity != testIdentity(i) {
			t.Errorf("Identity(%d) = %q, %v; want %q", i, identity, ok, testIdentity(i))
		}
	}
}

func TestAddVectorIdempotent(t *testing.T) {
	s := NewStore(t.TempDir(), 4)
	vec := []float32{0.5, 0.5, 0.5, 0.5}

	id1, err := s.AddVector(KindText, vec, idA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := s.AddVector(KindText, vec, idA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("re-add returned id %d, want %d", id2, id1)
	}
	if got := s.TextVectorCount(); got != 1 {
		t.Errorf("TextVectorCount = %d, want 1", got)
	}
}

func TestAddVectorDimensionMismatch(t *testing.T) {
	s := NewStore(t.TempDir(), 4)
	if _, err := s.AddVector(KindText, []float32{1, 2}, idA); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
	if _, err := s.Search(KindImage, []float32{1}, 5); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	s := NewStore(t.TempDir(), 4)
	results, err := s.Search(KindText, unitVector(4, 0), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty index, want 0", len(results))
	}
}

func TestSearchOrdering(t *testing.T) {
	s := NewStore(t.TempDir(), 2)

	// Scores against query [1, 0] are the first components.
	vectors := []struct {
		identity string
		vec      []float32
	}{
		{idA, []float32{0.2, 0.9}},
		{idB, []float32{0.8, 0.1}},
		{idC, []float32{0.5, 0.5}},
	}
	for _, v := range vectors {
		if _, err := s.AddVector(KindImage, v.vec, v.identity); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results, err := s.Search(KindImage, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].VectorID != 1 || results[1].VectorID != 2 {
		t.Errorf("result order = [%d, %d], want [1, 2]", results[0].VectorID, results[1].VectorID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not sorted by score descending")
	}
}

func TestHasVectors(t *testing.T) {
	s := NewStore(t.TempDir(), 2)
	s.AddVector(KindText, []float32{1, 0}, idA)
	s.AddVector(KindImage, []float32{1, 0}, idB)

	if hasText, hasImage := s.HasVectors(idA); !hasText || hasImage {
		t.Errorf("HasVectors(A) = %v, %v; want true, false", hasText, hasImage)
	}
	if hasText, hasImage := s.HasVectors(idB); hasText || !hasImage {
		t.Errorf("HasVectors(B) = %v, %v; want false, true", hasText, hasImage)
	}
	if hasText, hasImage := s.HasVectors(idC); hasText || hasImage {
		t.Errorf("HasVectors(C) = %v, %v; want false, false", hasText, hasImage)
	}
}

func TestHybridSearchFusion(t *testing.T) {
	s := NewStore(t.TempDir(), 2)
	query := []float32{1, 0}

	// Against the query, the inner product equals the first component.
	// Item A: text 0.90, image 0.50. Item B: text 0.95, no image vector.
	s.AddVector(KindText, []float32{0.90, 0}, idA)
	s.AddVector(KindText, []float32{0.95, 0}, idB)
	s.AddVector(KindImage, []float32{0.50, 0}, idA)

	results, err := s.HybridSearch(query, 10, 0.7, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	// B has only a text score, used raw: 0.95.
	// A has both sides: 0.7*0.90 + 0.3*0.50 = 0.78.
	if results[0].Identity != idB {
		t.Errorf("top result = %s, want item B", results[0].Identity)
	}
	if math.Abs(float64(results[0].Score)-0.95) > 1e-6 {
		t.Errorf("B score = %f, want 0.95", results[0].Score)
	}
	if results[1].Identity != idA {
		t.Errorf("second result = %s, want item A", results[1].Identity)
	}
	if math.Abs(float64(results[1].Score)-0.78) > 1e-6 {
		t.Errorf("A fused score = %f, want 0.78", results[1].Score)
	}
}

func TestHybridSearchTruncates(t *testing.T) {
	s := NewStore(t.TempDir(), 2)
	for i := 0; i < 8; i++ {
		s.AddVector(KindText, []float32{float32(i+1) / 10, 0}, testIdentity(i))
	}
	results, err := s.HybridSearch([]float32{1, 0}, 3, 0.7, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 4)

	for i := 0; i < 5; i++ {
		s.AddVector(KindText, unitVector(4, i), testIdentity(i))
	}
	for i := 0; i < 3; i++ {
		s.AddVector(KindImage, unitVector(4, i+1), testIdentity(i))
	}

	queryVec := []float32{0.5, 0.5, 0.1, 0.1}
	wantText, _ := s.Search(KindText, queryVec, 5)
	wantImage, _ := s.Search(KindImage, queryVec, 5)

	if err := s.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	restored := NewStore(dir, 4)
	if err := restored.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := restored.TextVectorCount(); got != 5 {
		t.Errorf("restored text count = %d, want 5", got)
	}
	if got := restored.ImageVectorCount(); got != 3 {
		t.Errorf("restored image count = %d, want 3", got)
	}
	for i := 0; i < 5; i++ {
		identity, ok := restored.Identity(KindText, i)
		if !ok || identity != testIdentity(i) {
			t.Errorf("restored Identity(text, %d) = %q, %v", i, identity, ok)
		}
	}

	gotText, _ := restored.Search(KindText, queryVec, 5)
	gotImage, _ := restored.Search(KindImage, queryVec, 5)
	assertSameResults(t, "text", wantText, gotText)
	assertSameResults(t, "image", wantImage, gotImage)
}

func assertSameResults(t *testing.T, label string, want, got []SearchResult) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: result count %d != %d", label, len(got), len(want))
	}
	for i := range want {
		if want[i].VectorID != got[i].VectorID {
			t.Errorf("%s[%d]: vector id %d != %d", label, i, got[i].VectorID, want[i].VectorID)
		}
		if math.Abs(float64(want[i].Score-got[i].Score)) > 1e-6 {
			t.Errorf("%s[%d]: score %f != %f", label, i, got[i].Score, want[i].Score)
		}
	}
}

func TestLoadMissingFilesCreatesEmpty(t *testing.T) {
	s := NewStore(t.TempDir(), 4)
	if err := s.Load(); err != nil {
		t.Fatalf("load of missing state failed: %v", err)
	}
	if s.TextVectorCount() != 0 || s.ImageVectorCount() != 0 {
		t.Error("expected empty indices after loading missing state")
	}
}

func TestLoadDetectsMappingMismatch(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 2)
	s.AddVector(KindText, []float32{1, 0}, idA)
	s.AddVector(KindText, []float32{0, 1}, idB)
	if err := s.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Drop one mapping entry so the counts disagree.
	mappingPath := filepath.Join(dir, "vector_mapping.json")
	truncated := []byte(`{"text_to_item": {"0": "` + idA + `"}, "image_to_item": {}}`)
	if err := os.WriteFile(mappingPath, truncated, 0644); err != nil {
		t.Fatalf("failed to tamper with mapping: %v", err)
	}

	restored := NewStore(dir, 2)
	if err := restored.Load(); !errors.Is(err, ErrInconsistentMapping) {
		t.Errorf("load error = %v, want ErrInconsistentMapping", err)
	}
}

func TestIndependentKindIDSpaces(t *testing.T) {
	s := NewStore(t.TempDir(), 2)

	textID, _ := s.AddVector(KindText, []float32{1, 0}, idA)
	imageID, _ := s.AddVector(KindImage, []float32{1, 0}, idA)
	if textID != 0 || imageID != 0 {
		t.Errorf("first ids = %d, %d; each kind should start at 0", textID, imageID)
	}

	if _, err := s.AddVector("audio", []float32{1, 0}, idB); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("error = %v, want ErrUnknownKind", err)
	}
}
