package engine

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// Verdict is a scorer's judgement of one capture.
type Verdict struct {
	Outcome schemas.Outcome
	Score   float64
	Reason  string
}

// Scorer judges the evidence an engine brought back.
type Scorer interface {
	Score(task Task, c *Capture) Verdict
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(task Task, c *Capture) Verdict

func (f ScorerFunc) Score(task Task, c *Capture) Verdict { return f(task, c) }

// StatusScorer fails captures with no body or with a status the target uses
// to turn automated clients away. It only vetoes: a passing capture gets a
// neutral Ambiguous verdict with no score, so a plain 200 never confirms a load.
type StatusScorer struct {
	Blocked []int
}

func (s StatusScorer) Score(_ Task, c *Capture) Verdict {
	if c.Size() == 0 {
		return Verdict{Outcome: schemas.OutcomeFailure, Reason: "no evidence captured"}
	}
	for _, code := range s.Blocked {
		if c.StatusCode == code {
			return Verdict{Outcome: schemas.OutcomeFailure, Reason: fmt.Sprintf("blocked with status %d", code)}
		}
	}
	return Verdict{Outcome: schemas.OutcomeAmbiguous}
}

// MarkerScorer confirms a load when the task marker appears in the page.
// A missing marker is not proof of failure, only of doubt.
type MarkerScorer struct{}

func (MarkerScorer) Score(task Task, c *Capture) Verdict {
	if task.Marker == "" {
		return Verdict{Outcome: schemas.OutcomeAmbiguous, Reason: "no marker to match"}
	}
	if c != nil && bytes.Contains(bytes.ToLower(c.HTML), bytes.ToLower([]byte(task.Marker))) {
		return Verdict{Outcome: schemas.OutcomeSuccess, Score: 1}
	}
	return Verdict{Outcome: schemas.OutcomeAmbiguous, Reason: "marker not found"}
}

// SizeScorer ranks captures by evidence size relative to MinBytes. The size
// alone is only trusted to confirm a load when the task has no marker.
type SizeScorer struct {
	MinBytes int
}

func (s SizeScorer) Score(task Task, c *Capture) Verdict {
	size := c.Size()
	if size == 0 {
		return Verdict{Outcome: schemas.OutcomeFailure, Reason: "no evidence captured"}
	}
	if s.MinBytes <= 0 || size >= s.MinBytes {
		if task.Marker == "" {
			return Verdict{Outcome: schemas.OutcomeSuccess, Score: 1}
		}
		return Verdict{Outcome: schemas.OutcomeAmbiguous, Score: 1}
	}
	return Verdict{
		Outcome: schemas.OutcomeAmbiguous,
		Score:   float64(size) / float64(s.MinBytes),
		Reason:  fmt.Sprintf("evidence %d bytes below threshold %d", size, s.MinBytes),
	}
}

// CompositeScorer combines scorers: any Failure fails the capture, otherwise
// any Success confirms it, otherwise it is Ambiguous with the highest score.
type CompositeScorer []Scorer

func (cs CompositeScorer) Score(task Task, c *Capture) Verdict {
	var (
		best    Verdict
		reasons []string
		success bool
	)
	best.Outcome = schemas.OutcomeAmbiguous
	for _, s := range cs {
		v := s.Score(task, c)
		switch v.Outcome {
		case schemas.OutcomeFailure:
			return v
		case schemas.OutcomeSuccess:
			success = true
		}
		if v.Score > best.Score {
			best.Score = v.Score
		}
		if v.Reason != "" {
			reasons = append(reasons, v.Reason)
		}
	}
	if success {
		return Verdict{Outcome: schemas.OutcomeSuccess, Score: 1}
	}
	best.Reason = strings.Join(reasons, "; ")
	return best
}

// DefaultScorer is the scorer the workflow uses.
func DefaultScorer(minBytes int, blocked []int) Scorer {
	return CompositeScorer{
		StatusScorer{Blocked: blocked},
		MarkerScorer{},
		SizeScorer{MinBytes: minBytes},
	}
}
