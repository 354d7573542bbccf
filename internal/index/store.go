// Package index implements the dual vector index store: two independent
// append-only similarity indices (caption-space and pixel-space) with a
// persistent bidirectional vector-id to identity mapping and a rank-fusion
// hybrid query over both modalities.
package index

import (
	"errors"
	"fmt"
	"sync"
)

// Kind selects one of the two modality indices.
type Kind string

const (
	// KindText is the caption-embedding index.
	KindText Kind = "text"
	// KindImage is the pixel-embedding index.
	KindImage Kind = "image"
)

// DefaultDimension matches CLIP ViT-L/14 output.
const DefaultDimension = 768

var (
	// ErrDimensionMismatch is returned when a vector's length does not match
	// the store's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInconsistentMapping is returned at load time when an index and its
	// identity mapping disagree on entry count. Surfaced rather than repaired,
	// since silent repair could hide a lost write.
	ErrInconsistentMapping = errors.New("index/mapping count mismatch")

	// ErrUnknownKind is returned for a Kind other than text or image.
	ErrUnknownKind = errors.New("unknown index kind")
)

// HybridResult is a fused hybrid-search hit resolved to an item identity.
type HybridResult struct {
	Identity string  `json:"identity"`
	Score    float32 `json:"score"`
}

// modality bundles one flat index with its id mapping under a single lock.
// Writers of the same kind are serialized because id assignment depends on
// the current index size; different kinds proceed independently.
type modality struct {
	mu           sync.RWMutex
	index        *flatIndex
	idToIdentity map[int]string
	identityToID map[string]int
}

func newModality(dim int) *modality {
	return &modality{
		index:        newFlatIndex(dim),
		idToIdentity: make(map[int]string),
		identityToID: make(map[string]int),
	}
}

// Store is the dual vector index store. Construct with NewStore and inject;
// interior locking makes it safe for concurrent use.
type Store struct {
	dim   int
	dir   string
	text  *modality
	image *modality
}

// NewStore creates an empty store persisting under dir.
// Parameters:
//   - dir: directory for index and mapping files.
//   - dim: embedding dimension; <= 0 uses DefaultDimension.
// Returns:
//   - *Store: store with two empty indices.
func NewStore(dir string, dim int) *Store {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Store{
		dim:   dim,
		dir:   dir,
		text:  newModality(dim),
		image: newModality(dim),
	}
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int {
	return s.dim
}

func (s *Store) modality(kind Kind) (*modality, error) {
	switch kind {
	case KindText:
		return s.text, nil
	case KindImage:
		return s.image, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// AddVector appends a vector for identity to the index of the given kind and
// returns its sequential id. Re-adding an identity already present in that
// kind is a no-op that returns the existing id. Once assigned, a vector is
// immutable; there is no update or delete path.
// Parameters:
//   - kind: text or image.
//   - vec: L2-normalized embedding of length Dimension().
//   - identity: owning item's content identity.
// Returns:
//   - int: vector id (insertion rank, 0-based).
//   - error: ErrDimensionMismatch or ErrUnknownKind.
func (s *Store) AddVector(kind Kind, vec []float32, identity string) (int, error) {
	m, err := s.modality(kind)
	if err != nil {
		return 0, err
	}
	if len(vec) != s.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dim)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.identityToID[identity]; ok {
		return id, nil
	}

	id := m.index.add(vec)
	m.idToIdentity[id] = identity
	m.identityToID[identity] = id
	return id, nil
}

// Search runs an exact nearest-neighbor query against one modality.
// Parameters:
//   - kind: text or image.
//   - query: L2-normalized query vector of length Dimension().
//   - k: maximum number of results.
// Returns:
//   - []SearchResult: up to min(k, size) hits sorted by score descending;
//     empty slice for an empty index.
//   - error: ErrDimensionMismatch or ErrUnknownKind.
func (s *Store) Search(kind Kind, query []float32, k int) ([]SearchResult, error) {
	m, err := s.modality(kind)
	if err != nil {
		return nil, err
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), s.dim)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.search(query, k), nil
}

// Identity resolves a vector id to its owning identity within one kind.
func (s *Store) Identity(kind Kind, vectorID int) (string, bool) {
	m, err := s.modality(kind)
	if err != nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.idToIdentity[vectorID]
	return identity, ok
}

// HybridSearch fuses nearest-neighbor results from both modality indices
// into one ranked list of identities. Both sides are over-fetched by a
// factor of 3 to allow fusion reordering. When both modality scores are
// present the fused score is textWeight*text + imageWeight*image; a score
// present on only one side is used raw and unweighted, which keeps
// single-modality hits on a different scale than fused ones (observed
// behavior, see DESIGN.md).
// Parameters:
//   - query: L2-normalized query vector.
//   - k: number of fused results to return.
//   - textWeight, imageWeight: fusion weights for dual-modality hits.
// Returns:
//   - []HybridResult: up to k identities sorted by fused score descending.
//   - error: ErrDimensionMismatch.
func (s *Store) HybridSearch(query []float32, k int, textWeight, imageWeight float32) ([]HybridResult, error) {
	overFetch := k * 3

	textHits, err := s.Search(KindText, query, overFetch)
	if err != nil {
		return nil, err
	}
	imageHits, err := s.Search(KindImage, query, overFetch)
	if err != nil {
		return nil, err
	}

	type pair struct {
		text  float32
		image float32
	}
	scores := make(map[string]*pair)

	for _, hit := range textHits {
		identity, ok := s.Identity(KindText, hit.VectorID)
		if !ok {
			continue
		}
		p, ok := scores[identity]
		if !ok {
			p = &pair{}
			scores[identity] = p
		}
		p.text = hit.Score
	}
	for _, hit := range imageHits {
		identity, ok := s.Identity(KindImage, hit.VectorID)
		if !ok {
			continue
		}
		p, ok := scores[identity]
		if !ok {
			p = &pair{}
			scores[identity] = p
		}
		p.image = hit.Score
	}

	fused := make([]HybridResult, 0, len(scores))
	for identity, p := range scores {
		var score float32
		switch {
		case p.text > 0 && p.image > 0:
			score = textWeight*p.text + imageWeight*p.image
		case p.text > 0:
			score = p.text
		default:
			score = p.image
		}
		fused = append(fused, HybridResult{Identity: identity, Score: score})
	}

	sortHybrid(fused)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// TextVectorCount returns the number of vectors in the caption-space index.
func (s *Store) TextVectorCount() int {
	s.text.mu.RLock()
	defer s.text.mu.RUnlock()
	return s.text.index.count()
}

// ImageVectorCount returns the number of vectors in the pixel-space index.
func (s *Store) ImageVectorCount() int {
	s.image.mu.RLock()
	defer s.image.mu.RUnlock()
	return s.image.index.count()
}

// HasVectors reports whether the identity has a vector in each kind.
func (s *Store) HasVectors(identity string) (hasText, hasImage bool) {
	s.text.mu.RLock()
	_, hasText = s.text.identityToID[identity]
	s.text.mu.RUnlock()

	s.image.mu.RLock()
	_, hasImage = s.image.identityToID[identity]
	s.image.mu.RUnlock()
	return hasText, hasImage
}
