package deltabar

import (
	"math"

	"github.com/deltabar-tiles/server/pkg/colormap"
)

// Texture is a rasterized rectangle batch owned by a rendering backend.
type Texture interface {
	Size() (width, height int)
	Release()
}

// Backend is the capability bundle a host injects: texture creation from a
// rectangle batch, sprite creation from a texture and color conversion.
type Backend interface {
	MakeTexture(batch *Batch) (Texture, error)
	MakeSprite(tex Texture) *Sprite
	ColorToHex(color string) (uint32, error)
}

// Sprite places a texture in track coordinates.
type Sprite struct {
	Texture Texture `json:"-"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// ScaleX returns the horizontal stretch applied to the texture.
func (s *Sprite) ScaleX() float64 {
	return s.scale(s.Width, 0)
}

// ScaleY returns the vertical stretch applied to the texture.
func (s *Sprite) ScaleY() float64 {
	return s.scale(s.Height, 1)
}

func (s *Sprite) scale(size float64, dim int) float64 {
	if s.Texture == nil {
		return 1
	}
	w, h := s.Texture.Size()
	natural := float64(w)
	if dim == 1 {
		natural = float64(h)
	}
	if natural == 0 {
		return 1
	}
	return size / natural
}

// Destroy releases the backend resources behind the sprite.
func (s *Sprite) Destroy() {
	if s != nil && s.Texture != nil {
		s.Texture.Release()
		s.Texture = nil
	}
}

// NopBackend computes texture sizes without rasterizing anything.
type NopBackend struct{}

type nopTexture struct{ w, h int }

func (t nopTexture) Size() (int, int) { return t.w, t.h }
func (nopTexture) Release()           {}

// MakeTexture sizes a texture to the batch bounds.
func (NopBackend) MakeTexture(b *Batch) (Texture, error) {
	w, h := b.TextureSize()
	return nopTexture{w: w, h: h}, nil
}

// MakeSprite returns a sprite at the texture's natural size.
func (NopBackend) MakeSprite(tex Texture) *Sprite {
	w, h := tex.Size()
	return &Sprite{Texture: tex, Width: float64(w), Height: float64(h)}
}

// ColorToHex parses the color with the shared colormap rules.
func (NopBackend) ColorToHex(c string) (uint32, error) {
	return colormap.ToHex(c)
}

// TextureSize returns the pixel size of the batch's bounding box, which spans
// from LowestY to the track bottom.
func (b *Batch) TextureSize() (int, int) {
	w := int(math.Ceil(float64(b.Columns) * b.BarWidth))
	h := int(math.Ceil(b.TrackHeight - b.LowestY))
	if h < 0 {
		h = 0
	}
	return w, h
}
