package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

const (
	textIndexFilename  = "text.index"
	imageIndexFilename = "image.index"
	mappingFilename    = "vector_mapping.json"

	indexMagic   = "MNIX"
	indexVersion = 1
)

// mappingFile is the on-disk schema for the id-to-identity tables. Keys are
// vector ids rendered as decimal strings. Insertion order determines ids;
// serialization order of the JSON object carries no meaning.
type mappingFile struct {
	TextToItem  map[string]string `json:"text_to_item"`
	ImageToItem map[string]string `json:"image_to_item"`
}

// Save persists both indices and the identity mapping as a unit. Each file
// is written to a temp path and renamed into place so a crash mid-save never
// leaves a torn file.
// Returns:
//   - error: non-nil if any file cannot be written.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	s.text.mu.RLock()
	defer s.text.mu.RUnlock()
	s.image.mu.RLock()
	defer s.image.mu.RUnlock()

	if err := writeIndexFile(filepath.Join(s.dir, textIndexFilename), s.text.index); err != nil {
		return fmt.Errorf("failed to save text index: %w", err)
	}
	if err := writeIndexFile(filepath.Join(s.dir, imageIndexFilename), s.image.index); err != nil {
		return fmt.Errorf("failed to save image index: %w", err)
	}

	mapping := mappingFile{
		TextToItem:  encodeMapping(s.text.idToIdentity),
		ImageToItem: encodeMapping(s.image.idToIdentity),
	}
	data, err := json.MarshalIndent(&mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.dir, mappingFilename), data); err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

// Load restores both indices and the mapping from disk. Missing persisted
// state yields two empty indices rather than an error. A count disagreement
// between an index and its mapping fails with ErrInconsistentMapping.
// Returns:
//   - error: non-nil on read failure or consistency violation.
func (s *Store) Load() error {
	textPath := filepath.Join(s.dir, textIndexFilename)
	imagePath := filepath.Join(s.dir, imageIndexFilename)

	if !fileExists(textPath) || !fileExists(imagePath) {
		s.reset()
		return nil
	}

	textIndex, err := readIndexFile(textPath, s.dim)
	if err != nil {
		return fmt.Errorf("failed to load text index: %w", err)
	}
	imageIndex, err := readIndexFile(imagePath, s.dim)
	if err != nil {
		return fmt.Errorf("failed to load image index: %w", err)
	}

	var mapping mappingFile
	mappingPath := filepath.Join(s.dir, mappingFilename)
	if fileExists(mappingPath) {
		data, err := os.ReadFile(mappingPath)
		if err != nil {
			return fmt.Errorf("failed to read mapping: %w", err)
		}
		if err := json.Unmarshal(data, &mapping); err != nil {
			return fmt.Errorf("failed to decode mapping: %w", err)
		}
	}

	textForward, textReverse, err := decodeMapping(mapping.TextToItem)
	if err != nil {
		return fmt.Errorf("invalid text mapping: %w", err)
	}
	imageForward, imageReverse, err := decodeMapping(mapping.ImageToItem)
	if err != nil {
		return fmt.Errorf("invalid image mapping: %w", err)
	}

	if len(textForward) != textIndex.count() {
		return fmt.Errorf("%w: text index has %d vectors, mapping has %d entries",
			ErrInconsistentMapping, textIndex.count(), len(textForward))
	}
	if len(imageForward) != imageIndex.count() {
		return fmt.Errorf("%w: image index has %d vectors, mapping has %d entries",
			ErrInconsistentMapping, imageIndex.count(), len(imageForward))
	}

	s.text.mu.Lock()
	s.text.index = textIndex
	s.text.idToIdentity = textForward
	s.text.identityToID = textReverse
	s.text.mu.Unlock()

	s.image.mu.Lock()
	s.image.index = imageIndex
	s.image.idToIdentity = imageForward
	s.image.identityToID = imageReverse
	s.image.mu.Unlock()
	return nil
}

func (s *Store) reset() {
	s.text.mu.Lock()
	s.text.index = newFlatIndex(s.dim)
	s.text.idToIdentity = make(map[int]string)
	s.text.identityToID = make(map[string]int)
	s.text.mu.Unlock()

	s.image.mu.Lock()
	s.image.index = newFlatIndex(s.dim)
	s.image.idToIdentity = make(map[int]string)
	s.image.identityToID = make(map[string]int)
	s.image.mu.Unlock()
}

func encodeMapping(m map[int]string) map[string]string {
	out := make(map[string]string, len(m))
	for id, identity := range m {
		out[strconv.Itoa(id)] = identity
	}
	return out
}

func decodeMapping(m map[string]string) (map[int]string, map[string]int, error) {
	forward := make(map[int]string, len(m))
	reverse := make(map[string]int, len(m))
	for key, identity := range m {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, nil, fmt.Errorf("non-numeric vector id %q: %w", key, err)
		}
		forward[id] = identity
		reverse[identity] = id
	}
	return forward, reverse, nil
}

// Index file layout: 4-byte magic, uint16 version, uint32 dimension,
// uint32 count, then count*dimension float32 values, all little-endian.
func writeIndexFile(path string, idx *flatIndex) error {
	count := idx.count()
	buf := make([]byte, 0, 14+len(idx.data)*4)
	buf = append(buf, indexMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, indexVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(idx.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))
	for _, v := range idx.data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return writeAtomic(path, buf)
}

func readIndexFile(path string, wantDim int) (*flatIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 14 || string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("not an index file: %s", path)
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d in %s", version, path)
	}
	dim := int(binary.LittleEndian.Uint32(data[6:10]))
	count := int(binary.LittleEndian.Uint32(data[10:14]))
	if dim != wantDim {
		return nil, fmt.Errorf("%w: file has dimension %d, store expects %d", ErrDimensionMismatch, dim, wantDim)
	}

	payload := data[14:]
	if len(payload) != count*dim*4 {
		return nil, fmt.Errorf("truncated index file %s: have %d payload bytes, want %d",
			path, len(payload), count*dim*4)
	}

	idx := newFlatIndex(dim)
	idx.data = make([]float32, count*dim)
	for i := range idx.data {
		bits := binary.LittleEndian.Uint32(payload[i*4 : i*4+4])
		idx.data[i] = math.Float32frombits(bits)
	}
	return idx, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
