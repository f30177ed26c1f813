package optimize

// capLossyQuality implements the binary-search quality cap shared by
// every lossy re-encode path that honors config.MaxReduction (§12
// supplement, generalizing the duplicated capping logic in
// original_source/optimizers/jpeg.py's _cap_quality/_cap_mozjpeg and
// webp.py's _find_capped_quality into one routine parameterized over
// an encode function).
//
// encode(quality) must return the encoded bytes at that quality, or an
// error if the quality setting itself is invalid for the encoder.
// capLossyQuality probes quality=100 first: if even the best-quality
// encode still exceeds maxReductionPercent, it reports ok=false and
// the caller falls back to the uncapped result or the original bytes.
// Otherwise it binary-searches at most 5 steps over [startQuality, 100]
// for the lowest quality whose reduction stays within the cap.
func capLossyQuality(startQuality int, originalSize int, maxReductionPercent float64, encode func(quality int) ([]byte, error)) (out []byte, ok bool, err error) {
	out100, err := encode(100)
	if err != nil {
		return nil, false, err
	}
	if reductionPercent(originalSize, len(out100)) > maxReductionPercent {
		return nil, false, nil
	}

	lo, hi := startQuality, 100
	best := out100

	for i := 0; i < 5; i++ {
		if hi-lo <= 1 {
			break
		}
		mid := (lo + hi) / 2
		outMid, err := encode(mid)
		if err != nil {
			return nil, false, err
		}
		if reductionPercent(originalSize, len(outMid)) > maxReductionPercent {
			lo = mid
		} else {
			hi = mid
			best = outMid
		}
	}

	return best, true, nil
}

func reductionPercent(originalSize, candidateSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return (1 - float64(candidateSize)/float64(originalSize)) * 100
}
