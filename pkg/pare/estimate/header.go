package estimate

import (
	"bytes"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// buildHeaderInfo derives the §4.G.1 supplemental fields. img may be
// nil (formats with no Go decoder, or malformed input) — every field
// degrades gracefully to its zero value rather than failing the
// estimate.
func buildHeaderInfo(data []byte, img image.Image) HeaderInfo {
	info := HeaderInfo{
		HasMetadataChunks: hasMetadataChunks(data),
		HasICCProfile:     hasICCProfile(data),
	}
	if img != nil {
		info.UniqueColorRatio = uniqueColorRatio(img)
	}
	if q, ok := estimateJPEGQuality(data); ok {
		info.EstimatedJPEGQuality = q
	}
	return info
}

func hasMetadataChunks(data []byte) bool {
	for _, marker := range [][]byte{
		[]byte("Exif\x00\x00"), []byte("tEXt"), []byte("iTXt"), []byte("zTXt"), []byte("XML:com.adobe.xmp"),
	} {
		if bytes.Contains(data, marker) {
			return true
		}
	}
	return false
}

func hasICCProfile(data []byte) bool {
	return bytes.Contains(data, []byte("ICC_PROFILE")) || bytes.Contains(data, []byte("iCCP"))
}

// uniqueColorRatio downsamples to a 64x64 thumbnail and counts distinct
// RGB triples / 4096, a cheap proxy for how much color complexity a
// lossy re-encode would have to preserve.
func uniqueColorRatio(img image.Image) float64 {
	thumb := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Over, nil)

	seen := make(map[uint32]struct{}, 64*64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			r, g, b, _ := thumb.At(x, y).RGBA()
			key := (r>>8)<<16 | (g>>8)<<8 | (b >> 8)
			seen[key] = struct{}{}
		}
	}
	return float64(len(seen)) / 4096.0
}

// estimateJPEGQuality walks DQT (0xFFDB) marker segments, averages
// every quantization table coefficient, and recovers the original IJG
// libjpeg quality setting from that average via the standard reverse
// formula.
func estimateJPEGQuality(data []byte) (int, bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, false
	}

	var sum, count int
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			i++
			continue
		}
		marker := data[i+1]
		if marker == 0xD8 || marker == 0xD9 || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		if marker == 0xDA {
			break
		}

		segLen := int(data[i+2])<<8 | int(data[i+3])
		if marker == 0xDB {
			p := i + 4
			end := i + 2 + segLen
			for p < end && p < len(data) {
				precision := data[p] >> 4
				p++
				for k := 0; k < 64 && p < len(data); k++ {
					if precision == 0 {
						sum += int(data[p])
						p++
					} else {
						if p+1 >= len(data) {
							break
						}
						sum += int(data[p])<<8 | int(data[p+1])
						p += 2
					}
					count++
				}
			}
		}
		i += 2 + segLen
	}

	if count == 0 {
		return 0, false
	}

	avgQ := float64(sum) / float64(count)
	scale := (avgQ / 25.0) * 100.0
	var quality float64
	if scale < 100 {
		quality = (200 - scale) / 2
	} else {
		quality = 5000 / scale
	}
	q := int(math.Round(quality))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return q, true
}
