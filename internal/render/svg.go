package render

import (
	"bytes"
	"fmt"
	"html"

	"github.com/deltabar-tiles/server/internal/deltabar"
)

type SVGOption func(*svgRenderer)

type svgRenderer struct {
	title      string
	background string
}

func WithTitle(title string) SVGOption { return func(r *svgRenderer) { r.title = title } }
func WithBackground(c string) SVGOption {
	return func(r *svgRenderer) { r.background = c }
}

// RenderSVG writes the exported tiles as one SVG document. Each tile becomes a group
// carrying its sprite transform; rectangles keep their tile-local coordinates.
func RenderSVG(tiles []deltabar.ExportTile, width, height float64, opts ...SVGOption) []byte {
	var r svgRenderer
	for _, opt := range opts {
		opt(&r)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.1f %.1f" width="%.0f" height="%.0f">`+"\n",
		width, height, width, height)
	if r.title != "" {
		fmt.Fprintf(&buf, "  <title>%s</title>\n", html.EscapeString(r.title))
	}
	if r.background != "" {
		fmt.Fprintf(&buf, `  <rect x="0" y="0" width="%g" height="%g" fill="%s"/>`+"\n", width, height, html.EscapeString(r.background))
	}

	for _, t := range tiles {
		renderTile(&buf, t)
	}

	buf.WriteString("</svg>\n")
	return buf.Bytes()
}

func renderTile(buf *bytes.Buffer, t deltabar.ExportTile) {
	fmt.Fprintf(buf, `  <g id="tile-%s" transform="translate(%g,%g) scale(%g,%g)">`+"\n",
		t.ID, t.X, t.Y, t.ScaleX, t.ScaleY)
	for _, rect := range t.Rects {
		fmt.Fprintf(buf, `    <rect x="%g" y="%g" width="%g" height="%g" fill="%s" stroke="%s"`,
			rect.X, rect.Y, rect.Width, rect.Height, html.EscapeString(rect.Fill), html.EscapeString(rect.Stroke))
		if rect.StrokeWidth > 0 {
			fmt.Fprintf(buf, ` stroke-width="%g"`, rect.StrokeWidth)
		}
		if rect.Opacity < 1 {
			fmt.Fprintf(buf, ` fill-opacity="%g"`, rect.Opacity)
		}
		buf.WriteString("/>\n")
	}
	buf.WriteString("  </g>\n")
}
