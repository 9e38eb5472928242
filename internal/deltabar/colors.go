package deltabar

import (
	"fmt"

	"github.com/deltabar-tiles/server/pkg/colormap"
)

// palette assigns one color per output category.
type palette struct {
	colors []string
	hex    []uint32
	hidden []bool
}

// colorScale picks the color list: explicit options, then tileset row colors,
// then a built-in palette large enough for numCategories.
func colorScale(opts Options, info TilesetInfo, numCategories int) ([]string, error) {
	var scale []string
	switch {
	case len(opts.ColorScale) > 0:
		scale = opts.ColorScale
	case len(info.RowInfos) > 0 && info.RowInfos[0].Color != "":
		scale = make([]string, len(info.RowInfos))
		for i, ri := range info.RowInfos {
			scale[i] = ri.Color
		}
	default:
		p, ok := colormap.Default(numCategories)
		if !ok {
			return nil, fmt.Errorf("%w: no built-in palette holds %d colors", ErrPaletteTooSmall, numCategories)
		}
		scale = p
	}
	if len(scale) < numCategories {
		return nil, fmt.Errorf("%w: %d colors for %d categories", ErrPaletteTooSmall, len(scale), numCategories)
	}
	return scale, nil
}

func newPalette(opts Options, info TilesetInfo, numCategories int, toHex func(string) (uint32, error)) (*palette, error) {
	scale, err := colorScale(opts, info, numCategories)
	if err != nil {
		return nil, err
	}
	hiddenHex, err := toHex(colormap.Hidden)
	if err != nil {
		return nil, err
	}

	p := &palette{
		colors: make([]string, numCategories),
		hex:    make([]uint32, numCategories),
		hidden: make([]bool, numCategories),
	}
	for i := 0; i < numCategories; i++ {
		p.colors[i] = scale[i]
		if opts.HideColorByIndex != nil && *opts.HideColorByIndex == i {
			p.hex[i] = hiddenHex
			p.hidden[i] = true
			continue
		}
		h, err := toHex(scale[i])
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", i, err)
		}
		p.hex[i] = h
		p.hidden[i] = scale[i] == colormap.Hidden
	}
	return p, nil
}
