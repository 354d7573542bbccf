package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoValidEntries is returned when a manifest parses as JSON but yields no
// usable media entries.
var ErrNoValidEntries = errors.New("manifest contains no valid media entries")

// Entry is one downloadable media candidate from an export manifest.
type Entry struct {
	Date        time.Time
	MediaType   string
	DownloadURL string
}

// rawEntry mirrors the export format. Field names follow the export tool,
// not Go conventions.
type rawEntry struct {
	Date        string `json:"Date"`
	MediaType   string `json:"Media Type"`
	DownloadURL string `json:"Download Link"`
}

// dateLayouts are tried in order. Exports have shipped both with and without
// a zone suffix.
var dateLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Parse reads an export manifest and returns its image entries.
// The manifest is either a bare JSON array of entries or an object whose
// values are arrays of entries (the export wraps media lists in named
// sections). Non-image entries and entries without a download link are
// dropped. Entries with an unparseable date are dropped rather than
// guessed at.
// Parameters:
//   - data: raw manifest bytes.
// Returns:
//   - []Entry: valid image entries in manifest order.
//   - error: parse failure or ErrNoValidEntries.
func Parse(data []byte) ([]Entry, error) {
	raws, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		entry, ok := validate(raw)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, ErrNoValidEntries
	}
	return entries, nil
}

func decodeRaw(data []byte) ([]rawEntry, error) {
	// Bare array form first
	var list []rawEntry
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	// Object form: sections of arrays, concatenated in any order
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	var all []rawEntry
	for _, section := range sections {
		var part []rawEntry
		if err := json.Unmarshal(section, &part); err != nil {
			// Sections that are not entry arrays (metadata blobs) are ignored
			continue
		}
		all = append(all, part...)
	}
	if all == nil {
		return nil, fmt.Errorf("failed to parse manifest: no entry sections found")
	}
	return all, nil
}

func validate(raw rawEntry) (Entry, bool) {
	if raw.DownloadURL == "" {
		return Entry{}, false
	}
	mediaType := strings.ToUpper(strings.TrimSpace(raw.MediaType))
	if mediaType != "IMAGE" {
		return Entry{}, false
	}
	date, ok := parseDate(raw.Date)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Date:        date,
		MediaType:   mediaType,
		DownloadURL: raw.DownloadURL,
	}, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
