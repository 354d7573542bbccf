package imaging

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path"
	"sort"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned when the payload is not a decodable image
// or layered archive.
var ErrUnsupportedFormat = errors.New("unsupported media format")

// ErrEmptyArchive is returned when a layered archive contains no image entries.
var ErrEmptyArchive = errors.New("archive contains no image layers")

// Options controls normalization output.
type Options struct {
	// MaxEdge is the longest allowed output edge in pixels. Larger images
	// are scaled down preserving aspect ratio; smaller ones pass through.
	MaxEdge int
	// JPEGQuality is the output encoder quality (1-100).
	JPEGQuality int
}

// DefaultOptions matches the pipeline defaults.
func DefaultOptions() Options {
	return Options{MaxEdge: 1280, JPEGQuality: 95}
}

// Result describes the normalized output.
type Result struct {
	Data   []byte // JPEG bytes; identity is computed over these
	Width  int
	Height int
	Format string // source format: jpeg, png, gif, webp, zip
}

// Normalize converts an arbitrary media payload into canonical JPEG bytes.
// Plain images are decoded, flattened onto white, resized, and re-encoded.
// ZIP payloads are treated as layered exports: every image entry is
// composited in name order onto a white canvas sized to the first layer.
// The output bytes are deterministic for a given input, which is what makes
// content hashing over them meaningful.
func Normalize(data []byte, opts Options) (*Result, error) {
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = DefaultOptions().MaxEdge
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultOptions().JPEGQuality
	}

	var (
		img    image.Image
		format string
		err    error
	)
	if isZIP(data) {
		img, err = flattenArchive(data)
		format = "zip"
	} else {
		img, format, err = decodeImage(data)
	}
	if err != nil {
		return nil, err
	}

	flat := flattenOntoWhite(img)
	flat = resizeMaxEdge(flat, opts.MaxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode normalized image: %w", err)
	}

	bounds := flat.Bounds()
	return &Result{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
	}, nil
}

// isZIP checks the local file header magic.
func isZIP(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 0x03 && data[3] == 0x04
}

func decodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, format, nil
	}
	// image.Decode only knows formats registered via init; webp is decoded
	// explicitly so the package does not depend on registration order.
	if w, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return w, "webp", nil
	}
	return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
}

// flattenArchive composites the image entries of a ZIP export into a single
// frame. Entries are applied in lexical name order so exports with numbered
// layers (0.png, 1.png, ...) stack bottom to top.
func flattenArchive(data []byte) (image.Image, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var entries []*zip.File
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if isImageEntry(f.Name) {
			entries = append(entries, f)
		}
	}
	if len(entries) == 0 {
		return nil, ErrEmptyArchive
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var canvas *image.RGBA
	for _, entry := range entries {
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
		}
		var buf bytes.Buffer
		_, copyErr := buf.ReadFrom(rc)
		rc.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %w", entry.Name, copyErr)
		}

		layer, _, err := decodeImage(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to decode archive entry %s: %w", entry.Name, err)
		}

		if canvas == nil {
			// First layer fixes the canvas size; start from white so
			// transparent regions render the same as single images.
			canvas = image.NewRGBA(image.Rect(0, 0, layer.Bounds().Dx(), layer.Bounds().Dy()))
			draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		}
		draw.Draw(canvas, canvas.Bounds(), layer, layer.Bounds().Min, draw.Over)
	}
	return canvas, nil
}

func isImageEntry(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

// flattenOntoWhite removes any alpha channel by compositing over white.
// JPEG has no alpha, so this must happen before encoding.
func flattenOntoWhite(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Over)
	return out
}

// resizeMaxEdge scales the image down so the longest edge is at most maxEdge.
// Images already within bounds are returned unchanged; the pipeline never
// upscales.
func resizeMaxEdge(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	var newW, newH int
	if w >= h {
		newW = maxEdge
		newH = h * maxEdge / w
	} else {
		newH = maxEdge
		newW = w * maxEdge / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, bounds, xdraw.Over, nil)
	return out
}
