package soft

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"gopkg.in/yaml.v3"
)

// ManifestName is the file describing an effect inside its directory.
const ManifestName = "config.yaml"

// Manifest is the YAML description of one effect.
//
//	name: Afro
//	tint: "#6b3e26"
//	tint_strength: 0.25
//	contrast: 1.1
//	overlay: overlay.png
//	overlay_opacity: 0.6
type Manifest struct {
	Name           string  `yaml:"name"`
	Tint           string  `yaml:"tint"`
	TintStrength   float64 `yaml:"tint_strength"`
	Brightness     float64 `yaml:"brightness"`
	Contrast       float64 `yaml:"contrast"`
	Grayscale      bool    `yaml:"grayscale"`
	Mirror         bool    `yaml:"mirror"`
	Overlay        string  `yaml:"overlay"`
	OverlayOpacity float64 `yaml:"overlay_opacity"`
}

// Validate checks ranges and fills defaults.
func (m *Manifest) Validate() error {
	if m.Contrast == 0 {
		m.Contrast = 1
	}
	if m.Contrast < 0 {
		return fmt.Errorf("contrast must be >= 0")
	}
	if m.TintStrength < 0 || m.TintStrength > 1 {
		return fmt.Errorf("tint_strength must be in [0, 1]")
	}
	if m.Brightness < -1 || m.Brightness > 1 {
		return fmt.Errorf("brightness must be in [-1, 1]")
	}
	if m.Overlay != "" && m.OverlayOpacity == 0 {
		m.OverlayOpacity = 1
	}
	if m.OverlayOpacity < 0 || m.OverlayOpacity > 1 {
		return fmt.Errorf("overlay_opacity must be in [0, 1]")
	}
	if m.Tint != "" {
		if _, err := parseHex(m.Tint); err != nil {
			return err
		}
	}
	return nil
}

// effect is a loaded, ready to apply Manifest.
type effect struct {
	name    string
	m       Manifest
	tint    color.RGBA
	overlay image.Image
}

// loadEffect reads dir/config.yaml (and the overlay it names) from fsys.
func loadEffect(fsys fs.FS, dir string) (*effect, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestName, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ManifestName, err)
	}
	if m.Name == "" {
		m.Name = path.Base(dir)
	}

	e := &effect{name: m.Name, m: m}
	if m.Tint != "" {
		e.tint, _ = parseHex(m.Tint)
	}

	if m.Overlay != "" {
		if !fs.ValidPath(m.Overlay) || strings.Contains(m.Overlay, "..") {
			return nil, fmt.Errorf("overlay %q escapes the effect directory", m.Overlay)
		}
		f, err := fsys.Open(path.Join(dir, m.Overlay))
		if err != nil {
			return nil, fmt.Errorf("open overlay: %w", err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode overlay: %w", err)
		}
		e.overlay = img
	}
	return e, nil
}

// apply renders the effect into frame in place.
func (e *effect) apply(frame *image.RGBA) {
	m := e.m
	tint := [3]float64{float64(e.tint.R), float64(e.tint.G), float64(e.tint.B)}

	for i := 0; i+3 < len(frame.Pix); i += 4 {
		px := frame.Pix[i : i+4 : i+4]
		c := [3]float64{float64(px[0]), float64(px[1]), float64(px[2])}

		if m.Grayscale {
			l := 0.299*c[0] + 0.587*c[1] + 0.114*c[2]
			c = [3]float64{l, l, l}
		}
		for k := range c {
			if m.Tint != "" {
				c[k] = c[k]*(1-m.TintStrength) + tint[k]*m.TintStrength
			}
			c[k] += m.Brightness * 255
			c[k] = (c[k]-128)*m.Contrast + 128
			// Pix is alpha-premultiplied.
			px[k] = min(clamp(c[k]), px[3])
		}
	}

	if m.Mirror {
		mirror(frame)
	}

	if e.overlay != nil && m.OverlayOpacity > 0 {
		b := frame.Bounds()
		scaled := image.NewRGBA(b)
		draw.CatmullRom.Scale(scaled, b, e.overlay, e.overlay.Bounds(), draw.Src, nil)
		mask := image.NewUniform(color.Alpha{A: uint8(m.OverlayOpacity*255 + 0.5)})
		draw.DrawMask(frame, b, scaled, b.Min, mask, image.Point{}, draw.Over)
	}
}

func mirror(img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			for k := 0; k < 4; k++ {
				row[l*4+k], row[r*4+k] = row[r*4+k], row[l*4+k]
			}
		}
	}
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func parseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("tint %q must be #rrggbb", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("tint %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
