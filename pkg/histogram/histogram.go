// Package histogram builds the live tone histogram of the preview stream,
// renders it as a small bitmap and classifies the exposure it shows.
package histogram

import (
	"errors"
	"image"
	"image/color"
)

const (
	DefaultBins         = 64
	DefaultLowClip      = 5
	DefaultHighClip     = 250
	DefaultHighClipTo   = 245
	DefaultRenderHeight = 32
	minScale            = 10
)

var (
	FillColor   = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	BorderColor = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	EmptyColor  = color.RGBA{A: 0x80}
)

var ErrBadBuffer = errors.New("luma buffer smaller than stride*height")

// Class is the exposure verdict of one histogram.
type Class int

const (
	Normal Class = iota
	OverExposed
	UnderExposed
)

func (c Class) String() string {
	switch c {
	case OverExposed:
		return "over"
	case UnderExposed:
		return "under"
	default:
		return "normal"
	}
}

// Luma is a single channel sample plane. Stride may exceed Width.
type Luma struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
}

func (l Luma) Validate() error {
	if l.Width <= 0 || l.Height <= 0 || l.Stride < l.Width {
		return ErrBadBuffer
	}
	if len(l.Pix) < (l.Height-1)*l.Stride+l.Width {
		return ErrBadBuffer
	}
	return nil
}

type Config struct {
	Bins       int
	LowClip    byte
	HighClip   byte
	HighClipTo byte

	// OverStart is the first bin of the highlight region.
	OverStart int
	// OverFraction of samples in the highlight region makes a frame over exposed.
	OverFraction float64
	// UnderStart is the first bin counted as "not shadow".
	UnderStart int
	// UnderFraction: at most this share above UnderStart makes a frame under exposed.
	UnderFraction float64

	RenderHeight int
}

func DefaultConfig() Config {
	return Config{
		Bins:          DefaultBins,
		LowClip:       DefaultLowClip,
		HighClip:      DefaultHighClip,
		HighClipTo:    DefaultHighClipTo,
		OverStart:     DefaultBins - 3,
		OverFraction:  0.05,
		UnderStart:    DefaultBins / 8,
		UnderFraction: 0.01,
		RenderHeight:  DefaultRenderHeight,
	}
}

// Histogram is the bucketed tone distribution of one frame.
type Histogram struct {
	Counts []int
	Total  int
	Max    int
}

// Build buckets every visible sample. Samples past Width in a row are padding.
func Build(l Luma, cfg Config) (*Histogram, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	bins := max(cfg.Bins, 1)

	// the clipped range 0..HighClip spreads over every bin
	span := int(cfg.HighClip) + 1
	var lut [256]int
	for v := 0; v < 256; v++ {
		c := byte(v)
		switch {
		case c < cfg.LowClip:
			c = 0
		case c > cfg.HighClip:
			c = cfg.HighClipTo
		}
		lut[v] = min(int(c)*bins/span, bins-1)
	}

	h := &Histogram{Counts: make([]int, bins)}
	for y := 0; y < l.Height; y++ {
		row := l.Pix[y*l.Stride : y*l.Stride+l.Width]
		for _, v := range row {
			h.Counts[lut[v]]++
		}
	}
	h.Total = l.Width * l.Height
	for _, c := range h.Counts {
		h.Max = max(h.Max, c)
	}

	return h, nil
}

// Classify sums from the brightest bin down. Enough highlights means over
// exposed; almost nothing outside the shadows means under exposed.
func (h *Histogram) Classify(cfg Config) Class {
	if h.Total == 0 {
		return UnderExposed
	}
	overStart := min(max(cfg.OverStart, 0), len(h.Counts)-1)
	underStart := min(max(cfg.UnderStart, 0), overStart)

	sum := 0
	i := len(h.Counts) - 1
	for ; i >= overStart; i-- {
		sum += h.Counts[i]
	}
	if float64(sum) >= cfg.OverFraction*float64(h.Total) {
		return OverExposed
	}
	for ; i >= underStart; i-- {
		sum += h.Counts[i]
	}
	if float64(sum) <= cfg.UnderFraction*float64(h.Total) {
		return UnderExposed
	}

	return Normal
}

// Render draws one column per bin inside a one pixel border.
func (h *Histogram) Render(cfg Config) *image.RGBA {
	height := max(cfg.RenderHeight, 1)
	w, hgt := len(h.Counts)+2, height+2
	img := image.NewRGBA(image.Rect(0, 0, w, hgt))

	scale := max(h.Max, minScale) + 1
	for x := 0; x < w; x++ {
		for y := 0; y < hgt; y++ {
			if x == 0 || y == 0 || x == w-1 || y == hgt-1 {
				img.SetRGBA(x, y, BorderColor)
				continue
			}
			bar := h.Counts[x-1] * height / scale
			if height-(y-1) <= bar {
				img.SetRGBA(x, y, FillColor)
			} else {
				img.SetRGBA(x, y, EmptyColor)
			}
		}
	}

	return img
}

// Analysis is the outcome of one frame.
type Analysis struct {
	Seq    uint64
	Class  Class
	Bitmap *image.RGBA
	Counts []int
}

// Analyze builds, classifies and renders in one call.
func Analyze(l Luma, cfg Config) (Analysis, error) {
	h, err := Build(l, cfg)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{Class: h.Classify(cfg), Bitmap: h.Render(cfg), Counts: h.Counts}, nil
}
