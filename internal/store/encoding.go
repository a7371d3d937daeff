package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"siftsearch/internal/features"
)

// Keypoints and descriptors are stored as packed little-endian float32 BLOBs:
// 4 floats per keypoint (x, y, scale, orientation), 128 per descriptor.

const keypointFloats = 4

func encodeKeypoints(kps []features.Keypoint) []byte {
	buf := make([]byte, 0, len(kps)*keypointFloats*4)
	for _, kp := range kps {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(kp.X))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(kp.Y))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(kp.Scale))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(kp.Orientation))
	}
	return buf
}

func decodeKeypoints(b []byte) ([]features.Keypoint, error) {
	const size = keypointFloats * 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("keypoint blob length %d not a multiple of %d", len(b), size)
	}
	if len(b) == 0 {
		return nil, nil
	}
	out := make([]features.Keypoint, len(b)/size)
	for i := range out {
		p := b[i*size:]
		out[i] = features.Keypoint{
			X:           math.Float32frombits(binary.LittleEndian.Uint32(p[0:])),
			Y:           math.Float32frombits(binary.LittleEndian.Uint32(p[4:])),
			Scale:       math.Float32frombits(binary.LittleEndian.Uint32(p[8:])),
			Orientation: math.Float32frombits(binary.LittleEndian.Uint32(p[12:])),
		}
	}
	return out, nil
}

func encodeDescriptors(ds []features.Descriptor) []byte {
	buf := make([]byte, 0, len(ds)*features.DescriptorSize*4)
	for i := range ds {
		for _, v := range ds[i] {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}

func decodeDescriptors(b []byte) ([]features.Descriptor, error) {
	const size = features.DescriptorSize * 4
	if len(b)%size != 0 {
		return nil, fmt.Errorf("descriptor blob length %d not a multiple of %d", len(b), size)
	}
	if len(b) == 0 {
		return nil, nil
	}
	out := make([]features.Descriptor, len(b)/size)
	for i := range out {
		p := b[i*size:]
		for j := range out[i] {
			out[i][j] = math.Float32frombits(binary.LittleEndian.Uint32(p[j*4:]))
		}
	}
	return out, nil
}
