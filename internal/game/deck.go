package game

import "strconv"

// Source is the random capability a round draws from. *rand.Rand from
// math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

// Shoe draws cards with replacement from the fixed rank deck. It never
// depletes.
type Shoe struct {
	src Source
}

// NewShoe creates a shoe backed by src
func NewShoe(src Source) *Shoe {
	return &Shoe{src: src}
}

// Draw returns one card rank
func (s *Shoe) Draw() int {
	return deck[s.src.IntN(len(deck))]
}

// DrawHand returns a fresh two-card hand
func (s *Shoe) DrawHand() Hand {
	return Hand{s.Draw(), s.Draw()}
}

// UpCard derives the cosmetic suit and label of a dealer up card of the
// given rank. It consumes one draw for the suit and, for ten-valued cards,
// one more for the face label.
func (s *Shoe) UpCard(rank int) Card {
	c := Card{
		Suit: Suits[s.src.IntN(len(Suits))],
		Rank: rank,
	}

	switch rank {
	case Ace:
		c.Label = "A"
	case Ten:
		c.Label = faceLabels[s.src.IntN(len(faceLabels))]
	default:
		c.Label = strconv.Itoa(rank)
	}

	return c
}
