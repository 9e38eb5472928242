// Package render rasterizes bar geometry using fogleman/gg and writes SVG exports.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/deltabar-tiles/server/internal/deltabar"
	"github.com/deltabar-tiles/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	// BorderWidth is the stroke width of bar borders in texture pixels.
	BorderWidth float64
}

// TileRenderer is a deltabar.Backend that rasterizes rectangle batches.
type TileRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// Texture is a rasterized batch.
type Texture struct {
	img  image.Image
	w, h int
}

// Size returns the texture size in pixels.
func (t *Texture) Size() (int, int) { return t.w, t.h }

// Release drops the pixel buffer.
func (t *Texture) Release() { t.img = nil }

// Image returns the pixels, or nil after Release.
func (t *Texture) Image() image.Image { return t.img }

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.BorderWidth <= 0 {
		cfg.BorderWidth = 0.1
	}
	return &TileRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// MakeTexture paints the batch's fill rectangles, largest first, onto a transparent
// canvas spanning LowestY to the track bottom.
func (r *TileRenderer) MakeTexture(b *deltabar.Batch) (deltabar.Texture, error) {
	w, h := b.TextureSize()
	if w == 0 || h == 0 {
		return &Texture{img: image.NewRGBA(image.Rect(0, 0, w, h)), w: w, h: h}, nil
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(color.Transparent)
	dc.Clear()

	for _, f := range b.Fills {
		if f.Hidden || f.Opacity <= 0 || f.Height <= 0 {
			continue
		}
		c := colormap.FromHex(f.Hex)
		dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(255*f.Opacity+0.5))
		dc.DrawRectangle(f.X, f.Y-b.LowestY, f.Width, f.Height)
		if b.Border {
			dc.FillPreserve()
			dc.SetRGB(0, 0, 0)
			dc.SetLineWidth(r.config.BorderWidth)
			dc.Stroke()
		} else {
			dc.Fill()
		}
	}

	return &Texture{img: dc.Image(), w: w, h: h}, nil
}

// MakeSprite returns a sprite at the texture's natural size.
func (r *TileRenderer) MakeSprite(tex deltabar.Texture) *deltabar.Sprite {
	w, h := tex.Size()
	return &deltabar.Sprite{Texture: tex, Width: float64(w), Height: float64(h)}
}

// ColorToHex parses a color string.
func (r *TileRenderer) ColorToHex(c string) (uint32, error) {
	return colormap.ToHex(c)
}

// EncodePNG encodes a texture produced by MakeTexture.
func (r *TileRenderer) EncodePNG(tex deltabar.Texture) ([]byte, error) {
	t, ok := tex.(*Texture)
	if !ok || t.img == nil {
		return nil, fmt.Errorf("texture %T has no pixels", tex)
	}
	if t.w == 0 || t.h == 0 {
		return r.CreateEmptyTile(max(t.w, 1), max(t.h, 1))
	}
	return r.encodeImage(t.img)
}

func (r *TileRenderer) encodeImage(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile.
func (r *TileRenderer) CreateEmptyTile(w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Fill with transparent white
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255   // R
		img.Pix[i+1] = 255 // G
		img.Pix[i+2] = 255 // B
		img.Pix[i+3] = 0   // A (transparent)
	}
	return r.encodeImage(img)
}
