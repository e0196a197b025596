package playback

import "math"

// Ratio 进度条比例 clamp(position/duration, 0, 1)。时长未知、非正数或非有限值时为 0。
func Ratio(position, duration float64) float64 {
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0
	}
	if math.IsNaN(position) {
		return 0
	}
	r := position / duration
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// clampFraction 把跳转比例限制到 [0,1]，NaN 视为 0
func clampFraction(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func finite(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0)
}
