package report

import (
	"math"
	"sort"
)

// Point is one sample of a chart series
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DownsamplingStrategy defines how to reduce the number of chart points
type DownsamplingStrategy interface {
	// Downsample reduces the number of data points while preserving trend
	Downsample(points []Point, targetCount int) []Point
}

// Downsampling strategy names
const (
	StrategyLTTB   = "lttb"
	StrategyMinMax = "minmax"
)

// StrategyFor resolves a strategy by name, defaulting to LTTB
func StrategyFor(name string) DownsamplingStrategy {
	switch name {
	case StrategyMinMax:
		return &MinMaxDownsampling{}
	default:
		return &LTTBDownsampling{}
	}
}

// LTTBDownsampling implements the Largest-Triangle-Three-Buckets algorithm
// which provides high-quality downsampling that preserves visual appearance
type LTTBDownsampling struct{}

// Downsample selects, per bucket, the point forming the largest triangle with the last
// selected point and the centroid of the next bucket
func (d *LTTBDownsampling) Downsample(points []Point, targetCount int) []Point {
	if targetCount <= 0 || targetCount >= len(points) {
		return points
	}

	if targetCount < 3 {
		if targetCount == 2 {
			return []Point{points[0], points[len(points)-1]}
		}
		return []Point{points[0]}
	}

	result := make([]Point, targetCount)
	result[0] = points[0]
	result[targetCount-1] = points[len(points)-1]

	bucketSize := float64(len(points)-2) / float64(targetCount-2)

	lastSelected := 0
	for i := 1; i < targetCount-1; i++ {
		nextStart := int(math.Floor(float64(i)*bucketSize)) + 1
		nextEnd := int(math.Min(math.Floor(float64(i+1)*bucketSize)+1, float64(len(points))))

		centroid := Point{}
		for j := nextStart; j < nextEnd; j++ {
			centroid.X += points[j].X
			centroid.Y += points[j].Y
		}
		if n := float64(nextEnd - nextStart); n > 0 {
			centroid.X /= n
			centroid.Y /= n
		}

		maxArea := -1.0
		maxIndex := nextStart
		for j := int(math.Floor(float64(i-1)*bucketSize)) + 1; j < nextStart; j++ {
			area := triangleArea(points[lastSelected], points[j], centroid)
			if area > maxArea {
				maxArea = area
				maxIndex = j
			}
		}

		result[i] = points[maxIndex]
		lastSelected = maxIndex
	}

	return result
}

// MinMaxDownsampling preserves extreme values when downsampling
type MinMaxDownsampling struct{}

// Downsample keeps the first and last points plus the min and max of each of
// (targetCount-2)/2 buckets
func (d *MinMaxDownsampling) Downsample(points []Point, targetCount int) []Point {
	if targetCount <= 0 || targetCount >= len(points) {
		return points
	}

	result := make([]Point, 0, targetCount)
	result = append(result, points[0])
	if targetCount == 1 {
		return result
	}

	buckets := (targetCount - 2) / 2
	if buckets > 0 {
		bucketSize := float64(len(points)-2) / float64(buckets)
		for i := 0; i < buckets; i++ {
			start := int(math.Floor(float64(i)*bucketSize)) + 1
			end := int(math.Min(math.Floor(float64(i+1)*bucketSize)+1, float64(len(points)-1)))
			if start >= end {
				continue
			}

			minIdx, maxIdx := start, start
			for j := start + 1; j < end; j++ {
				if points[j].Y < points[minIdx].Y {
					minIdx = j
				}
				if points[j].Y > points[maxIdx].Y {
					maxIdx = j
				}
			}

			indices := []int{minIdx, maxIdx}
			if minIdx == maxIdx {
				indices = indices[:1]
			}
			sort.Ints(indices)
			for _, idx := range indices {
				result = append(result, points[idx])
			}
		}
	}

	return append(result, points[len(points)-1])
}

func triangleArea(a, b, c Point) float64 {
	return math.Abs((a.X*(b.Y-c.Y) + b.X*(c.Y-a.Y) + c.X*(a.Y-b.Y)) / 2.0)
}
