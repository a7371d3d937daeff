//go:build gocv

package features

import (
	"context"

	"gocv.io/x/gocv"
)

// SIFTExtractor computes OpenCV SIFT keypoints and descriptors. It is only built
// with the gocv tag and needs OpenCV 4.x at link time.
type SIFTExtractor struct{}

// NewSIFTExtractor returns an OpenCV-backed Extractor.
func NewSIFTExtractor() *SIFTExtractor { return &SIFTExtractor{} }

// Extract implements Extractor. The image is decoded in colour for the mean and
// converted to grayscale for detection.
func (SIFTExtractor) Extract(ctx context.Context, data []byte) (Features, error) {
	if err := ctx.Err(); err != nil {
		return Features{}, err
	}
	// formats Go cannot parse are left to OpenCV's own limits
	if ok, _ := withinPixelLimit(data, DefaultMaxPixels); !ok {
		return Features{}, nil
	}
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return Features{}, nil
	}
	defer img.Close()
	if img.Empty() {
		return Features{}, nil
	}

	mean := img.Mean()
	out := Features{ColorMean: Color{float32(mean.Val1), float32(mean.Val2), float32(mean.Val3)}}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()
	sift := gocv.NewSIFT()
	defer sift.Close()

	kps, desc := sift.DetectAndCompute(gray, mask)
	defer desc.Close()
	if desc.Empty() || len(kps) == 0 {
		return out, nil
	}

	out.Keypoints = make([]Keypoint, 0, len(kps))
	out.Descriptors = make([]Descriptor, 0, desc.Rows())
	for i, kp := range kps {
		if i >= desc.Rows() {
			break
		}
		var d Descriptor
		for j := 0; j < DescriptorSize; j++ {
			d[j] = desc.GetFloatAt(i, j)
		}
		out.Keypoints = append(out.Keypoints, Keypoint{
			X:           float32(kp.X),
			Y:           float32(kp.Y),
			Scale:       float32(kp.Size),
			Orientation: float32(kp.Angle),
		})
		out.Descriptors = append(out.Descriptors, d)
	}
	return out, out.Validate()
}
