package features

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
)

const (
	patchRadius   = 8
	descCells     = 4
	descBins      = 8
	orientBins    = 36
	minOctaveSide = 2*patchRadius + 8
)

// GradientOptions tunes the pure-Go detector.
type GradientOptions struct {
	// MaxDimension bounds the longer image side before detection. 0 disables downscaling.
	MaxDimension uint
	// MaxKeypoints keeps only the strongest responses.
	MaxKeypoints int
	// Octaves is the number of pyramid levels searched for corners.
	Octaves int
	// HarrisK is the Harris detector sensitivity.
	HarrisK float64
	// Threshold is relative to the strongest response in each octave.
	Threshold float64
	// MaxPixels rejects images whose header claims more pixels, before any
	// pixel buffer is allocated.
	MaxPixels int64
}

// DefaultGradientOptions are used by NewGradientExtractor.
var DefaultGradientOptions = GradientOptions{
	MaxDimension: 640,
	MaxKeypoints: 500,
	Octaves:      3,
	HarrisK:      0.04,
	Threshold:    0.01,
	MaxPixels:    DefaultMaxPixels,
}

// GradientExtractor detects Harris corners on a grayscale pyramid and describes
// each with a 4x4 grid of 8-bin gradient orientation histograms, rotated to the
// dominant local orientation. The descriptor layout matches SIFT (128 values).
//
// Output is deterministic for identical input bytes.
type GradientExtractor struct {
	opts GradientOptions
}

// NewGradientExtractor returns an extractor configured from DefaultGradientOptions.
func NewGradientExtractor(optFns ...func(o *GradientOptions)) *GradientExtractor {
	opts := DefaultGradientOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxKeypoints <= 0 {
		opts.MaxKeypoints = DefaultGradientOptions.MaxKeypoints
	}
	if opts.Octaves <= 0 {
		opts.Octaves = 1
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &GradientExtractor{opts: opts}
}

type corner struct {
	octave   int
	x, y     int
	response float32
}

// Extract implements Extractor.
func (e *GradientExtractor) Extract(ctx context.Context, data []byte) (Features, error) {
	if err := ctx.Err(); err != nil {
		return Features{}, err
	}
	if ok, known := withinPixelLimit(data, e.opts.MaxPixels); !ok || !known {
		return Features{}, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Undecodable input is reported as "no features", not as a failure.
		return Features{}, nil
	}
	out := Features{ColorMean: ColorMean(img)}

	scaled, factor := e.downscale(img)
	cur := grayPlane(scaled)

	var levels []*octave
	var cands []corner
	for o := 0; o < e.opts.Octaves; o++ {
		if cur.w < minOctaveSide || cur.h < minOctaveSide {
			break
		}
		if err := ctx.Err(); err != nil {
			return Features{}, err
		}
		lv := newOctave(cur)
		levels = append(levels, lv)
		for _, c := range lv.corners(e.opts.HarrisK, e.opts.Threshold) {
			c.octave = o
			cands = append(cands, c)
		}
		cur = cur.halve()
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].response > cands[j].response })

	for _, c := range cands {
		if len(out.Descriptors) >= e.opts.MaxKeypoints {
			break
		}
		lv := levels[c.octave]
		angle, oriented := lv.dominantOrientation(c.x, c.y)
		desc, ok := lv.describe(c.x, c.y, angle, oriented)
		if !ok {
			continue
		}
		mult := float32(int(1)<<c.octave) / factor
		kp := Keypoint{
			X:           float32(c.x) * mult,
			Y:           float32(c.y) * mult,
			Scale:       2 * patchRadius * mult,
			Orientation: NoOrientation,
		}
		if oriented {
			kp.Orientation = float32(angle * 180 / math.Pi)
		}
		out.Keypoints = append(out.Keypoints, kp)
		out.Descriptors = append(out.Descriptors, desc)
	}
	return out, nil
}

func (e *GradientExtractor) downscale(img image.Image) (image.Image, float32) {
	b := img.Bounds()
	long := b.Dx()
	if b.Dy() > long {
		long = b.Dy()
	}
	limit := e.opts.MaxDimension
	if limit == 0 || long <= int(limit) {
		return img, 1
	}
	factor := float32(limit) / float32(long)
	if b.Dx() >= b.Dy() {
		return resize.Resize(limit, 0, img, resize.Bilinear), factor
	}
	return resize.Resize(0, limit, img, resize.Bilinear), factor
}

// plane is a single-channel float image.
type plane struct {
	w, h int
	pix  []float32
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float32, w*h)}
}

// at clamps coordinates to the plane borders.
func (p *plane) at(x, y int) float32 {
	if x < 0 {
		x = 0
	} else if x >= p.w {
		x = p.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.h {
		y = p.h - 1
	}
	return p.pix[y*p.w+x]
}

func (p *plane) inside(x, y int) bool {
	return x >= 0 && y >= 0 && x < p.w && y < p.h
}

func grayPlane(img image.Image) *plane {
	b := img.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			p.pix[y*p.w+x] = 0.299*float32(r>>8) + 0.587*float32(g>>8) + 0.114*float32(bl>>8)
		}
	}
	return p
}

// halve downsamples by averaging 2x2 blocks.
func (p *plane) halve() *plane {
	out := newPlane(p.w/2, p.h/2)
	for y := 0; y < out.h; y++ {
		for x := 0; x < out.w; x++ {
			sx, sy := 2*x, 2*y
			out.pix[y*out.w+x] = (p.at(sx, sy) + p.at(sx+1, sy) + p.at(sx, sy+1) + p.at(sx+1, sy+1)) / 4
		}
	}
	return out
}

var binomial5 = [5]float32{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

// blur applies a separable 5-tap binomial kernel.
func (p *plane) blur() *plane {
	tmp := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var s float32
			for k := -2; k <= 2; k++ {
				s += binomial5[k+2] * p.at(x+k, y)
			}
			tmp.pix[y*p.w+x] = s
		}
	}
	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var s float32
			for k := -2; k <= 2; k++ {
				s += binomial5[k+2] * tmp.at(x, y+k)
			}
			out.pix[y*p.w+x] = s
		}
	}
	return out
}

// octave holds the smoothed image of one pyramid level and its gradients.
type octave struct {
	dx, dy   *plane
	mag, ang *plane
}

func newOctave(p *plane) *octave {
	s := p.blur()
	o := &octave{
		dx:  newPlane(s.w, s.h),
		dy:  newPlane(s.w, s.h),
		mag: newPlane(s.w, s.h),
		ang: newPlane(s.w, s.h),
	}
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			gx := (s.at(x+1, y) - s.at(x-1, y)) / 2
			gy := (s.at(x, y+1) - s.at(x, y-1)) / 2
			i := y*s.w + x
			o.dx.pix[i] = gx
			o.dy.pix[i] = gy
			o.mag.pix[i] = float32(math.Hypot(float64(gx), float64(gy)))
			o.ang.pix[i] = float32(math.Atan2(float64(gy), float64(gx)))
		}
	}
	return o
}

// corners returns Harris corners above threshold*max that are strict local maxima
// in a 3x3 neighbourhood, in raster order.
func (o *octave) corners(k, threshold float64) []corner {
	w, h := o.dx.w, o.dx.h
	ixx, iyy, ixy := newPlane(w, h), newPlane(w, h), newPlane(w, h)
	for i := range o.dx.pix {
		gx, gy := o.dx.pix[i], o.dy.pix[i]
		ixx.pix[i] = gx * gx
		iyy.pix[i] = gy * gy
		ixy.pix[i] = gx * gy
	}
	ixx, iyy, ixy = ixx.blur(), iyy.blur(), ixy.blur()

	resp := newPlane(w, h)
	var maxR float32
	for i := range resp.pix {
		a, b, c := ixx.pix[i], iyy.pix[i], ixy.pix[i]
		tr := a + b
		r := a*b - c*c - float32(k)*tr*tr
		resp.pix[i] = r
		if r > maxR {
			maxR = r
		}
	}
	if maxR <= 0 {
		return nil
	}
	thr := float32(threshold) * maxR
	margin := patchRadius + 1
	var out []corner
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			r := resp.pix[y*w+x]
			if r <= thr || !localMax(resp, x, y) {
				continue
			}
			out = append(out, corner{x: x, y: y, response: r})
		}
	}
	return out
}

// localMax breaks plateaus in favour of the first pixel in raster order.
func localMax(p *plane, x, y int) bool {
	r := p.at(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := p.at(x+dx, y+dy)
			if dy < 0 || (dy == 0 && dx < 0) {
				if n >= r {
					return false
				}
			} else if n > r {
				return false
			}
		}
	}
	return true
}

// dominantOrientation returns the peak of a 36-bin, magnitude-weighted gradient
// orientation histogram, in radians within [0, 2π).
func (o *octave) dominantOrientation(cx, cy int) (float64, bool) {
	var hist [orientBins]float64
	sigma := float64(patchRadius) / 2
	var total float64
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		for dx := -patchRadius; dx <= patchRadius; dx++ {
			if dx*dx+dy*dy > patchRadius*patchRadius || !o.mag.inside(cx+dx, cy+dy) {
				continue
			}
			m := float64(o.mag.at(cx+dx, cy+dy))
			if m == 0 {
				continue
			}
			wgt := math.Exp(-float64(dx*dx+dy*dy) / (2 * sigma * sigma))
			a := float64(o.ang.at(cx+dx, cy+dy)) + math.Pi
			bin := int(a/(2*math.Pi)*orientBins) % orientBins
			hist[bin] += m * wgt
			total += m * wgt
		}
	}
	if total == 0 {
		return 0, false
	}
	best := 0
	for i := 1; i < orientBins; i++ {
		if hist[i] > hist[best] {
			best = i
		}
	}
	angle := (float64(best)+0.5)/orientBins*2*math.Pi - math.Pi
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return angle, true
}

// describe builds the 128-d descriptor in the keypoint's rotated frame. It reports
// false for a degenerate (all-zero) patch.
func (o *octave) describe(cx, cy int, angle float64, oriented bool) (Descriptor, bool) {
	var d Descriptor
	cos, sin := 1.0, 0.0
	if oriented {
		cos, sin = math.Cos(angle), math.Sin(angle)
	} else {
		angle = 0
	}
	sigma := float64(patchRadius)
	cellSide := 2 * patchRadius / descCells
	for i := 0; i < 2*patchRadius; i++ {
		for j := 0; j < 2*patchRadius; j++ {
			u := float64(j-patchRadius) + 0.5
			v := float64(i-patchRadius) + 0.5
			x := cx + int(math.Round(u*cos-v*sin))
			y := cy + int(math.Round(u*sin+v*cos))
			if !o.mag.inside(x, y) {
				continue
			}
			m := float64(o.mag.at(x, y))
			if m == 0 {
				continue
			}
			rel := math.Mod(float64(o.ang.at(x, y))-angle, 2*math.Pi)
			if rel < 0 {
				rel += 2 * math.Pi
			}
			bin := int(rel / (2 * math.Pi) * descBins)
			if bin >= descBins {
				bin = descBins - 1
			}
			cell := (i/cellSide)*descCells + j/cellSide
			wgt := math.Exp(-(u*u + v*v) / (2 * sigma * sigma))
			d[cell*descBins+bin] += float32(m * wgt)
		}
	}
	if !normalize(&d) {
		return d, false
	}
	for i := range d {
		if d[i] > 0.2 {
			d[i] = 0.2
		}
	}
	if !normalize(&d) {
		return d, false
	}
	for i := range d {
		d[i] = float32(math.Min(float64(d[i])*512, 255))
	}
	return d, true
}

func normalize(d *Descriptor) bool {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range d {
		d[i] *= inv
	}
	return true
}
