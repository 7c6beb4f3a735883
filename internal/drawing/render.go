package drawing

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/gogpu/gg"
	"github.com/jung-kurt/gofpdf"
	"golang.org/x/image/draw"
)

// Render rasterizes the canvas at screen size. Committed strokes are drawn
// oldest first and the in-progress path on top.
func (s *Surface) Render() (image.Image, error) {
	dc := gg.NewContext(s.opts.ScreenWidth, s.opts.ScreenHeight)
	defer dc.Close()

	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	for i, l := range s.layers() {
		if err := strokeLayer(dc, l); err != nil {
			return nil, fmt.Errorf("render stroke %d: %w", i, err)
		}
	}
	if err := dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("flush canvas: %w", err)
	}
	return dc.Image(), nil
}

func strokeLayer(dc *gg.Context, l layer) error {
	if len(l.points) == 0 {
		return nil
	}
	dc.SetColor(l.style.Color)

	if len(l.points) == 1 {
		dc.DrawCircle(l.points[0].X, l.points[0].Y, l.style.Width/2)
		return dc.Fill()
	}

	dc.SetLineWidth(l.style.Width)
	dc.MoveTo(l.points[0].X, l.points[0].Y)
	for _, p := range l.points[1:] {
		dc.LineTo(p.X, p.Y)
	}
	return dc.Stroke()
}

// RenderScaled renders the canvas and resamples it by scale
func (s *Surface) RenderScaled(scale float64) (image.Image, error) {
	if !(scale > 0) {
		return nil, fmt.Errorf("invalid scale %v", scale)
	}
	src, err := s.Render()
	if err != nil {
		return nil, err
	}
	if scale == 1 {
		return src, nil
	}

	b := src.Bounds()
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst, nil
}

// EncodePNG writes a scaled snapshot of the canvas as PNG
func (s *Surface) EncodePNG(w io.Writer, scale float64) error {
	img, err := s.RenderScaled(scale)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// ExportPDF writes the committed strokes as vector lines on a single page
// the size of the screen, one point per pixel.
func (s *Surface) ExportPDF(w io.Writer) error {
	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size: gofpdf.SizeType{
			Wd: float64(s.opts.ScreenWidth),
			Ht: float64(s.opts.ScreenHeight),
		},
	})
	p.SetAutoPageBreak(false, 0)
	p.AddPage()
	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")

	for _, st := range s.Strokes() {
		style := st.Style()
		c := style.Color
		p.SetAlpha(float64(c.A())/255, "Normal")
		p.SetDrawColor(int(c.R()), int(c.G()), int(c.B()))
		p.SetFillColor(int(c.R()), int(c.G()), int(c.B()))
		p.SetLineWidth(style.Width)

		pts := st.Points()
		if len(pts) == 1 {
			p.Circle(pts[0].X, pts[0].Y, style.Width/2, "F")
			continue
		}
		for i := 1; i < len(pts); i++ {
			p.Line(pts[i-1].X, pts[i-1].Y, pts[i].X, pts[i].Y)
		}
	}

	if err := p.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
