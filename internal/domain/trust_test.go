package domain

import "testing"

func TestLevelForScore_Bands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  TrustLevel
	}{
		{-10, LevelObserver},
		{0, LevelObserver},
		{49, LevelObserver},
		{50, LevelAdvisor},
		{99, LevelAdvisor},
		{100, LevelVoter},
		{199, LevelVoter},
		{200, LevelVetoer},
		{299, LevelVetoer},
		{300, LevelAutonomous},
		{1000, LevelAutonomous},
	}

	for _, tt := range tests {
		if got := LevelForScore(tt.score); got != tt.want {
			t.Errorf("LevelForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestWeightForScore_Clamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  float64
	}{
		{100, 1.0},  // baseline
		{0, 0.5},    // floor
		{-100, 0.5}, // below floor stays clamped
		{200, 1.5},
		{300, 2.0},  // ceiling
		{1000, 2.0}, // above ceiling stays clamped
		{150, 1.25},
	}

	for _, tt := range tests {
		if got := WeightForScore(tt.score); got != tt.want {
			t.Errorf("WeightForScore(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestTrustLevel_Rank_Ordering(t *testing.T) {
	t.Parallel()

	ordered := []TrustLevel{LevelObserver, LevelAdvisor, LevelVoter, LevelVetoer, LevelAutonomous}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("expected %s < %s in rank", ordered[i-1], ordered[i])
		}
	}
}
