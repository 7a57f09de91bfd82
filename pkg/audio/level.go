package audio

// levelStride is the sampling stride of the volume meter.
const levelStride = 10

// Level estimates the loudness of buf on a 0..100 scale for meter display. It
// averages the absolute value of every tenth sample and divides by 100,
// saturating at 100. It is not meant for control decisions.
func Level(buf []int16) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum, n int64
	for i := 0; i < len(buf); i += levelStride {
		s := int64(buf[i])
		if s < 0 {
			s = -s
		}
		sum += s
		n++
	}
	return min(100, float64(sum)/float64(n)/100)
}
