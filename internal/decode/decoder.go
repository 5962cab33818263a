// Package decode turns raw payloads into display-ready images.
//
// Decoding goes through a Decoder, the extension point for additional
// formats. The default Registry uses the image package's format registry,
// which this package extends with the golang.org/x/image formats.
package decode

import (
	"bytes"
	"fmt"
	"image"

	// Formats available to Registry
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoder turns bytes into an image
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc func(data []byte) (image.Image, error)

func (f DecoderFunc) Decode(data []byte) (image.Image, error) {
	return f(data)
}

// Registry decodes every format registered with image.RegisterFormat
type Registry struct{}

func (Registry) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if img == nil {
		return nil, fmt.Errorf("decoder for %s returned no image", format)
	}
	return img, nil
}
