package domain

import "fmt"

// Side is one of the two complementary outcomes of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ParseSide accepts venue spellings ("yes", "YES", "no", "NO").
func ParseSide(s string) (Side, error) {
	switch s {
	case "yes", "YES", "Yes":
		return SideYes, nil
	case "no", "NO", "No":
		return SideNo, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Direction is the trade a signal recommends.
type Direction string

const (
	BuyYes Direction = "buy_yes"
	BuyNo  Direction = "buy_no"
	Flat   Direction = "flat"
)

// Side returns the contract side bought by the direction. Flat has no side.
func (d Direction) Side() (Side, bool) {
	switch d {
	case BuyYes:
		return SideYes, true
	case BuyNo:
		return SideNo, true
	default:
		return "", false
	}
}

// DirectionFor returns the buy direction that opens the given side.
func DirectionFor(s Side) Direction {
	if s == SideYes {
		return BuyYes
	}
	return BuyNo
}
