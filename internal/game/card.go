package game

type Suit string

const (
	Clubs    Suit = "C"
	Diamonds Suit = "D"
	Hearts   Suit = "H"
	Spades   Suit = "S"
)

// Suits is the symbol set the cosmetic up-card suit is chosen from.
var Suits = []Suit{Clubs, Diamonds, Hearts, Spades}

// Ace and Ten are the two ranks with special meaning in scoring.
const (
	Ace = 1
	Ten = 10
)

// deck lists the thirteen ranks a card is drawn from. Jack, queen and king
// collapse to ten, so a ten is four times as likely as any other rank.
var deck = [13]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 10, 10}

// faceLabels are the labels a ten-valued up card may be shown as.
var faceLabels = []string{"J", "Q", "K"}

// Card is the display form of the dealer's up card. It carries no game
// meaning beyond Rank.
type Card struct {
	Suit  Suit   `json:"suit"`
	Rank  int    `json:"rank"`
	Label string `json:"label"`
}

// String returns the card as label followed by suit, e.g. "QH".
func (c Card) String() string {
	return c.Label + string(c.Suit)
}
