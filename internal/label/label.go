// Package label renders scannable trace labels for batches and lots and
// publishes them to a blob store. The encoded image is display-only; identity
// and integrity always come from the ledger, never from a label.
package label

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"agritrace/internal/blob"
)

// Encoder turns an identifier into image bytes. Implementations are external
// services (QR or barcode renderers); the core only transports the result.
type Encoder interface {
	Encode(identifier string) ([]byte, error)
}

// Service publishes encoded labels for entity ids.
type Service struct {
	encoder Encoder
	store   blob.Store
}

// NewService constructs a label service over the given encoder and blob store.
func NewService(encoder Encoder, store blob.Store) *Service {
	return &Service{encoder: encoder, store: store}
}

// Key returns the blob key a label for id is published under.
func Key(id string) string { return "labels/" + id + ".png" }

// Publish encodes id and stores the image, returning the blob info. Publishing
// the same id twice fails because labels are immutable once issued.
func (s *Service) Publish(ctx context.Context, id string) (blob.Info, error) {
	if id == "" {
		return blob.Info{}, fmt.Errorf("label id cannot be empty")
	}
	img, err := s.encoder.Encode(id)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode label %s: %w", id, err)
	}
	info, err := s.store.Put(ctx, Key(id), bytes.NewReader(img), blob.PutOptions{
		ContentType: "image/png",
		Metadata:    map[string]string{"subject_id": id},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store label %s: %w", id, err)
	}
	return info, nil
}

// Fetch returns the published label image for id.
func (s *Service) Fetch(ctx context.Context, id string) ([]byte, error) {
	_, rc, err := s.store.Get(ctx, Key(id))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// URL returns a time-limited link to the label when the backend supports it.
func (s *Service) URL(ctx context.Context, id string) (string, error) {
	return s.store.PresignURL(ctx, Key(id), blob.SignedURLOptions{})
}

// GridEncoder is a minimal built-in encoder producing a deterministic
// monochrome grid derived from the identifier bytes. It stands in for a real
// QR renderer in development and tests.
type GridEncoder struct {
	// Scale is the pixel size of one cell; defaults to 4.
	Scale int
}

// Encode renders the identifier as a PNG grid.
func (e GridEncoder) Encode(identifier string) ([]byte, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}
	scale := e.Scale
	if scale <= 0 {
		scale = 4
	}
	const cells = 16
	img := image.NewGray(image.Rect(0, 0, cells*scale, cells*scale))
	data := []byte(identifier)
	for cy := 0; cy < cells; cy++ {
		for cx := 0; cx < cells; cx++ {
			b := data[(cy*cells+cx)%len(data)]
			shade := color.Gray{Y: 255}
			if (b+byte(cx)*7+byte(cy)*13)%2 == 0 {
				shade = color.Gray{Y: 0}
			}
			for y := cy * scale; y < (cy+1)*scale; y++ {
				for x := cx * scale; x < (cx+1)*scale; x++ {
					img.SetGray(x, y, shade)
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
