package executor

import (
	"testing"
	"time"
)

func TestRampingVUs_CalculateTargetVUs(t *testing.T) {
	e := NewRampingVUs()
	e.config = &Config{
		Type: TypeRampingVUs,
		Stages: []Stage{
			{Duration: 10 * time.Second, Target: 10},
			{Duration: 10 * time.Second, Target: 10},
			{Duration: 10 * time.Second, Target: 0},
		},
	}

	tests := []struct {
		elapsed time.Duration
		want    int
		stage   int32
	}{
		{0, 0, 0},
		{5 * time.Second, 5, 0},
		{9 * time.Second, 9, 0},
		{15 * time.Second, 10, 1},
		{25 * time.Second, 5, 2},
		{time.Minute, 0, 2},
	}

	for _, tt := range tests {
		if got := e.calculateTargetVUs(tt.elapsed); got != tt.want {
			t.Errorf("calculateTargetVUs(%v) = %d, want %d", tt.elapsed, got, tt.want)
		}
		if got := e.currentStage.Load(); got != tt.stage {
			t.Errorf("stage at %v = %d, want %d", tt.elapsed, got, tt.stage)
		}
	}
}
