package indicators

import (
	"math"

	"perp-pilot/models"
)

// All functions here are pure and fail closed: when the input window is
// shorter than the indicator requires, the bool result is false and callers
// must treat the value as absent. No indicator ever substitutes a numeric
// default for missing history.

// SMA calculates the simple average of a series.
func SMA(data []float64) (float64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data)), true
}

// StdDev calculates the population standard deviation of a series.
func StdDev(data []float64) (float64, bool) {
	m, ok := SMA(data)
	if !ok {
		return 0, false
	}
	var sum float64
	for _, v := range data {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(data))), true
}

// EMA calculates the exponential moving average over the whole series,
// seeded with the simple average of the first period values.
func EMA(src []float64, period int) (float64, bool) {
	if period <= 0 || len(src) < period {
		return 0, false
	}
	seed, _ := SMA(src[:period])
	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(src); i++ {
		ema = (src[i] * multiplier) + (ema * (1 - multiplier))
	}
	return ema, true
}

// RSI calculates the Wilder-style Relative Strength Index over the trailing
// period deltas. Returns 100 when the average loss is exactly zero.
func RSI(src []float64, period int) (float64, bool) {
	if period <= 0 || len(src) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := len(src) - period; i < len(src); i++ {
		delta := src[i] - src[i-1]
		if delta >= 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// ATR calculates the mean true range over the trailing period bars. True
// range is the largest of high-low, |high-prevClose| and |low-prevClose|.
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	var trSum float64
	for i := len(candles) - period; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := math.Max(
			c.High-c.Low,
			math.Max(
				math.Abs(c.High-prevClose),
				math.Abs(c.Low-prevClose),
			),
		)
		trSum += tr
	}
	return trSum / float64(period), true
}

// VolumeRatio divides the current bar's volume by the mean volume of the
// preceding lookback bars, excluding the current bar.
func VolumeRatio(candles []models.Candle, lookback int) (float64, bool) {
	if lookback <= 0 || len(candles) < lookback+1 {
		return 0, false
	}
	current := candles[len(candles)-1].Volume
	var sum float64
	for i := len(candles) - 1 - lookback; i < len(candles)-1; i++ {
		sum += candles[i].Volume
	}
	mean := sum / float64(lookback)
	if mean == 0 {
		return 0, false
	}
	return current / mean, true
}

// IsBullishStructure reports higher-highs-and-higher-lows over the trailing
// lookback window by comparing the extremes of its first and second halves.
func IsBullishStructure(candles []models.Candle, lookback int) (bool, bool) {
	firstHigh, firstLow, secondHigh, secondLow, ok := halfExtremes(candles, lookback)
	if !ok {
		return false, false
	}
	return secondHigh > firstHigh && secondLow > firstLow, true
}

// IsBearishStructure reports lower-highs-and-lower-lows, the mirror of
// IsBullishStructure.
func IsBearishStructure(candles []models.Candle, lookback int) (bool, bool) {
	firstHigh, firstLow, secondHigh, secondLow, ok := halfExtremes(candles, lookback)
	if !ok {
		return false, false
	}
	return secondHigh < firstHigh && secondLow < firstLow, true
}

func halfExtremes(candles []models.Candle, lookback int) (firstHigh, firstLow, secondHigh, secondLow float64, ok bool) {
	if lookback < 4 || len(candles) < lookback {
		return 0, 0, 0, 0, false
	}
	window := candles[len(candles)-lookback:]
	half := lookback / 2
	firstHigh, firstLow = extremes(window[:half])
	secondHigh, secondLow = extremes(window[half:])
	return firstHigh, firstLow, secondHigh, secondLow, true
}

func extremes(candles []models.Candle) (high, low float64) {
	high = candles[0].High
	low = candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

// BollingerBands calculates the upper, middle and lower bands over the
// trailing window.
func BollingerBands(closes []float64, windowSize int, mult float64) (upper, middle, lower float64, ok bool) {
	if windowSize <= 0 || len(closes) < windowSize {
		return 0, 0, 0, false
	}
	recent := closes[len(closes)-windowSize:]
	middle, _ = SMA(recent)
	sd, _ := StdDev(recent)
	return middle + mult*sd, middle, middle - mult*sd, true
}

// MaxSlice returns the maximum value in a slice.
func MaxSlice(arr []float64) float64 {
	if len(arr) == 0 {
		return 0
	}
	max := arr[0]
	for _, v := range arr[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// MinSlice returns the minimum value in a slice.
func MinSlice(arr []float64) float64 {
	if len(arr) == 0 {
		return 0
	}
	min := arr[0]
	for _, v := range arr[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
