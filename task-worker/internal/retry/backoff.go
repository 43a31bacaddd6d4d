package retry

import (
	"math"
	"time"
)

// Delay 返回第 retryCount 次重试前的等待时间：base^retryCount 秒。
// max 大于 0 时作为上限；溢出时返回 max，未设置上限则返回最大可表示时长。
func Delay(base float64, retryCount int, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	seconds := math.Pow(base, float64(retryCount))
	limit := time.Duration(math.MaxInt64)
	if max > 0 {
		limit = max
	}
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds >= limit.Seconds() {
		return limit
	}
	return time.Duration(seconds * float64(time.Second))
}
