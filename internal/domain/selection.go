package domain

import (
	"math"

	"github.com/cockroachdb/errors"
)

type Category string

const (
	CategoryAdult  Category = "adult"
	CategoryChild  Category = "child"
	CategorySenior Category = "senior"
)

// TicketSelection counts the tickets requested per category.
type TicketSelection struct {
	Adult  int
	Child  int
	Senior int
}

func (s TicketSelection) Validate() error {
	if s.Adult < 0 || s.Child < 0 || s.Senior < 0 {
		return errors.Wrapf(ErrInvalidInput, "negative ticket count in %+v", s)
	}
	return nil
}

func (s *TicketSelection) Increment(c Category) {
	switch c {
	case CategoryAdult:
		s.Adult++
	case CategoryChild:
		s.Child++
	case CategorySenior:
		s.Senior++
	}
}

// Decrement never takes a count below zero.
func (s *TicketSelection) Decrement(c Category) {
	switch c {
	case CategoryAdult:
		s.Adult = max(0, s.Adult-1)
	case CategoryChild:
		s.Child = max(0, s.Child-1)
	case CategorySenior:
		s.Senior = max(0, s.Senior-1)
	}
}

func (s TicketSelection) Count() int {
	return s.Adult + s.Child + s.Senior
}

// Total prices the selection and rounds to cents.
func (s TicketSelection) Total(p Prices) float64 {
	sum := float64(s.Adult)*p.Adult + float64(s.Child)*p.Child + float64(s.Senior)*p.Senior
	return RoundMoney(sum)
}

func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
