// Package fsrs is a reference scheduler for the collection. It maps an
// answered card to its next domain.CardState using a simplified FSRS memory
// model: a card's interval stands in for its stability and its ease factor
// for its difficulty.
package fsrs

import (
	"math"

	"github.com/conorfennell/knolbase/internal/domain"
)

// Rating is the user's response to a card review.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// Valid reports whether r is one of the four answer buttons.
func (r Rating) Valid() bool { return r >= Again && r <= Easy }

// Params holds the parameters for the FSRS algorithm.
type Params struct {
	A                float64 // scales the overall memory increase
	B                float64 // difficulty exponent
	C                float64 // stability exponent
	D                float64 // retention effect scaler
	DesiredRetention float64 // desired retention rate (e.g., 0.9 for 90%)
	EasyBonus        float64 // extra stability multiplier for Easy
}

// DefaultParams provides a set of sensible default parameters to start with.
func DefaultParams() *Params {
	return &Params{
		A:                0.2,
		B:                0.5,
		C:                0.1,
		D:                4.0,
		DesiredRetention: 0.9,
		EasyBonus:        1.3,
	}
}

// Memory is the memory state of a card.
type Memory struct {
	Stability  float64 // days
	Difficulty float64 // 1..10
}

// NextMemory calculates the next stability and difficulty based on a review.
func (p *Params) NextMemory(m Memory, rating Rating) Memory {
	if rating == Again {
		// Forgetting resets stability to a day and makes the card harder.
		return Memory{
			Stability:  1,
			Difficulty: math.Min(10, m.Difficulty+0.5),
		}
	}

	stability := p.nextStability(m.Stability, m.Difficulty)
	difficulty := m.Difficulty
	switch rating {
	case Hard:
		difficulty = math.Min(10, difficulty+0.1)
	case Easy:
		stability *= p.EasyBonus
		difficulty = math.Max(1, difficulty-0.1)
	}
	return Memory{Stability: stability, Difficulty: difficulty}
}

// nextStability applies the core FSRS formula for a successful review.
func (p *Params) nextStability(stability, difficulty float64) float64 {
	// Formula: S' = S * (1 + a * D^(-b) * S^c * (e^(d * (1-R)) - 1))
	if stability < 1 {
		stability = 1 // Ensure stability is at least 1 to avoid issues with pow
	}
	if difficulty < 1 {
		difficulty = 1 // Ensure difficulty is at least 1
	}

	factor := p.A * math.Pow(difficulty, -p.B) * math.Pow(stability, p.C)
	exponent := p.D * (1 - p.DesiredRetention)
	multiplier := math.Exp(exponent) - 1

	return stability * (1 + factor*multiplier)
}

// Ease factors are stored in permille. The range maps linearly onto
// difficulty, the easiest factor being difficulty 1.
const (
	minFactor     = 1300
	maxFactor     = 2830
	factorPerStep = (maxFactor - minFactor) / 9
	initialFactor = 2500
)

// MemoryOf derives the memory state from a card's scheduling fields.
func MemoryOf(c *domain.Card) Memory {
	factor := c.Factor
	if factor == 0 {
		factor = initialFactor
	}
	d := 10 - float64(factor-minFactor)/factorPerStep
	return Memory{
		Stability:  math.Max(1, float64(c.Interval)),
		Difficulty: math.Min(10, math.Max(1, d)),
	}
}

func factorOf(m Memory) int {
	return minFactor + int(math.Round((10-m.Difficulty)*factorPerStep))
}

// Scheduler answers cards. Today is the day number relative to collection
// creation that new due dates are counted from.
type Scheduler struct {
	Params *Params
}

func NewScheduler() *Scheduler {
	return &Scheduler{Params: DefaultParams()}
}

// Answer returns the state card moves to when answered with rating on day
// today. A failed review is a lapse and sends the card to relearning for a
// day; a failed new or learning card stays in learning. Any other answer
// graduates the card to review with an interval of its new stability.
func (s *Scheduler) Answer(c *domain.Card, rating Rating, today int64) domain.CardState {
	next := c.State()
	next.Reps++
	mem := s.Params.NextMemory(MemoryOf(c), rating)
	next.Factor = factorOf(mem)

	if rating == Again {
		next.Interval = 1
		next.Queue = domain.QueueDayLearning
		next.Due = domain.DueDay(today + 1)
		next.Left = domain.Left{Today: 1, Remaining: 1}
		if c.Type == domain.TypeReview || c.Type == domain.TypeRelearning {
			next.Type = domain.TypeRelearning
			next.Lapses++
		} else {
			next.Type = domain.TypeLearning
		}
		return next
	}

	ivl := max(1, int(math.Round(mem.Stability)))
	next.Type = domain.TypeReview
	next.Queue = domain.QueueReview
	next.Interval = ivl
	next.Due = domain.DueDay(today + int64(ivl))
	next.Left = domain.Left{}
	return next
}
