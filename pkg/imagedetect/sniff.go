package imagedetect

import (
	"bytes"
	"image"
	"mime"
	"strconv"
	"strings"

	// Decoders registered for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// dimensions holds what a header sniff could extract.
type dimensions struct {
	Width  int
	Height int
	Format string
}

// sniff decodes the image header in buf.
func sniff(buf []byte) (dimensions, bool) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return dimensions{}, false
	}
	return dimensions{Width: cfg.Width, Height: cfg.Height, Format: format}, true
}

// mediaType returns the lower-cased media type of a Content-Type value.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func isImageType(mt string) bool {
	return strings.HasPrefix(mt, "image/")
}

// formatFromType derives a format name from an image media type.
func formatFromType(mt string) string {
	sub := strings.TrimPrefix(mt, "image/")
	sub, _, _ = strings.Cut(sub, "+")
	switch sub {
	case "jpg", "pjpeg":
		return "jpeg"
	case "x-ms-bmp":
		return "bmp"
	}
	return sub
}

// totalFromContentRange extracts the complete size from a Content-Range value
// such as "bytes 0-8191/123456". Returns 0 when unknown.
func totalFromContentRange(v string) int64 {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
