package storage

import "fmt"

// ObjectKey builds the canonical storage key for a media item. Keys are
// bucketed by the first two identity characters so a flat bucket never
// accumulates millions of siblings under one prefix.
func ObjectKey(identity string) string {
	if len(identity) < 2 {
		return identity + ".jpg"
	}
	return fmt.Sprintf("%s/%s.jpg", identity[:2], identity)
}
