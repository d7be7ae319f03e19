package report

import (
	"math"
	"testing"
)

func createTestSeries(count int) []Point {
	points := make([]Point, count)
	for i := 0; i < count; i++ {
		points[i] = Point{X: float64(i + 1), Y: math.Sin(float64(i)*0.5) + 2.0}
	}
	return points
}

func TestLTTBDownsampling(t *testing.T) {
	testCases := []struct {
		name               string
		pointCount         int
		targetCount        int
		expectedResultSize int
	}{
		{"TargetLargerThanSource", 10, 20, 10},
		{"TargetEqualsSource", 10, 10, 10},
		{"TargetZeroKeepsAll", 10, 0, 10},
		{"TargetOne", 10, 1, 1},
		{"TargetTwo", 10, 2, 2},
		{"NormalDownsampling", 100, 20, 20},
		{"HeavyDownsampling", 200, 5, 5},
	}

	downsampler := &LTTBDownsampling{}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			points := createTestSeries(tc.pointCount)
			result := downsampler.Downsample(points, tc.targetCount)

			if len(result) != tc.expectedResultSize {
				t.Fatalf("Expected %d points, got %d", tc.expectedResultSize, len(result))
			}
			if result[0] != points[0] {
				t.Errorf("First point should be preserved")
			}
			if tc.expectedResultSize > 1 && result[len(result)-1] != points[len(points)-1] {
				t.Errorf("Last point should be preserved")
			}
			for i := 1; i < len(result); i++ {
				if result[i].X <= result[i-1].X {
					t.Errorf("Points out of order at %d: %v after %v", i, result[i], result[i-1])
				}
			}
		})
	}
}

func TestLTTBKeepsSpike(t *testing.T) {
	points := make([]Point, 100)
	for i := range points {
		points[i] = Point{X: float64(i), Y: 1}
	}
	points[50].Y = 100

	result := (&LTTBDownsampling{}).Downsample(points, 10)
	found := false
	for _, p := range result {
		if p.Y == 100 {
			found = true
		}
	}
	if !found {
		t.Errorf("LTTB dropped the spike: %v", result)
	}
}

func TestMinMaxDownsampling(t *testing.T) {
	points := createTestSeries(100)
	points[40].Y = -50
	points[60].Y = 50

	result := (&MinMaxDownsampling{}).Downsample(points, 20)
	if len(result) > 20 {
		t.Fatalf("Expected at most 20 points, got %d", len(result))
	}
	if result[0] != points[0] || result[len(result)-1] != points[99] {
		t.Errorf("Endpoints should be preserved")
	}

	var sawMin, sawMax bool
	for _, p := range result {
		if p.Y == -50 {
			sawMin = true
		}
		if p.Y == 50 {
			sawMax = true
		}
	}
	if !sawMin || !sawMax {
		t.Errorf("Extremes not preserved: min=%v max=%v", sawMin, sawMax)
	}
}

func TestStrategyFor(t *testing.T) {
	if _, ok := StrategyFor(StrategyMinMax).(*MinMaxDownsampling); !ok {
		t.Errorf("expected minmax strategy")
	}
	if _, ok := StrategyFor("").(*LTTBDownsampling); !ok {
		t.Errorf("expected lttb default")
	}
}
