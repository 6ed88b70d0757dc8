package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

func TestDefaultScorer(t *testing.T) {
	scorer := DefaultScorer(1000, []int{403, 429})
	big := strings.Repeat("a", 2000)

	tests := []struct {
		name    string
		task    Task
		capture *Capture
		want    schemas.Outcome
	}{
		{"nil capture", testTask, nil, schemas.OutcomeFailure},
		{"empty body", testTask, &Capture{StatusCode: 200}, schemas.OutcomeFailure},
		{"blocked status with marker", testTask, &Capture{StatusCode: 429, HTML: []byte("Sign In")}, schemas.OutcomeFailure},
		{"small page with marker", testTask, &Capture{StatusCode: 200, HTML: []byte("sign in")}, schemas.OutcomeSuccess},
		{"big page without marker", testTask, &Capture{StatusCode: 200, HTML: []byte(big)}, schemas.OutcomeAmbiguous},
		{"no marker, big page", Task{}, &Capture{HTML: []byte(big)}, schemas.OutcomeSuccess},
		{"no marker, small page", Task{}, &Capture{HTML: []byte("tiny")}, schemas.OutcomeAmbiguous},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, scorer.Score(tc.task, tc.capture).Outcome)
		})
	}
}

func TestSizeScorerRanksBySize(t *testing.T) {
	s := SizeScorer{MinBytes: 200}
	small := s.Score(testTask, &Capture{HTML: make([]byte, 50)})
	larger := s.Score(testTask, &Capture{HTML: make([]byte, 150)})

	assert.Equal(t, schemas.OutcomeAmbiguous, small.Outcome)
	assert.InDelta(t, 0.25, small.Score, 1e-9)
	assert.Greater(t, larger.Score, small.Score)
	assert.Contains(t, small.Reason, "below threshold")
}

func TestCompositeScorerReasons(t *testing.T) {
	v := CompositeScorer{MarkerScorer{}, SizeScorer{MinBytes: 10}}.Score(testTask, &Capture{HTML: []byte("abc")})
	assert.Equal(t, schemas.OutcomeAmbiguous, v.Outcome)
	assert.Contains(t, v.Reason, "marker not found")
	assert.Contains(t, v.Reason, "below threshold")

	custom := ScorerFunc(func(Task, *Capture) Verdict { return Verdict{Outcome: schemas.OutcomeFailure, Reason: "vetoed"} })
	v = CompositeScorer{MarkerScorer{}, custom}.Score(testTask, &Capture{HTML: []byte("Sign In")})
	assert.Equal(t, schemas.OutcomeFailure, v.Outcome)
}

func TestStatusScorerOnlyVetoes(t *testing.T) {
	s := StatusScorer{Blocked: []int{403}}

	pass := s.Score(testTask, &Capture{StatusCode: 200, HTML: []byte("<html>Checking your browser...</html>")})
	assert.Equal(t, schemas.OutcomeAmbiguous, pass.Outcome)
	assert.Zero(t, pass.Score)
	assert.Empty(t, pass.Reason)

	blocked := s.Score(testTask, &Capture{StatusCode: 403, HTML: []byte("Sign In")})
	assert.Equal(t, schemas.OutcomeFailure, blocked.Outcome)
	assert.Contains(t, blocked.Reason, "403")
}

func TestDefaultScorerChallengePageIsAmbiguous(t *testing.T) {
	v := DefaultScorer(20000, []int{403}).Score(testTask, &Capture{StatusCode: 200, HTML: []byte("<html>Checking your browser...</html>")})
	assert.Equal(t, schemas.OutcomeAmbiguous, v.Outcome)
	assert.Less(t, v.Score, 1.0)
	assert.Contains(t, v.Reason, "marker not found")
}
