package game

// Hand is an ordered sequence of card ranks. It grows by append only while
// a round is in progress.
type Hand []int

// HardTotal sums the ranks, counting every ace as one
func (h Hand) HardTotal() int {
	total := 0
	for _, rank := range h {
		total += rank
	}
	return total
}

// UsableAce reports whether one ace can count as eleven without busting
func (h Hand) UsableAce() bool {
	return h.hasAce() && h.HardTotal()+10 <= 21
}

// BestTotal returns the highest total that does not bust, or the hard total
// when no ace can be promoted.
func (h Hand) BestTotal() int {
	if h.UsableAce() {
		return h.HardTotal() + 10
	}
	return h.HardTotal()
}

// IsBust reports whether the hand is over 21
func (h Hand) IsBust() bool {
	return h.BestTotal() > 21
}

// Score is the value used for comparison: zero when bust
func (h Hand) Score() int {
	if h.IsBust() {
		return 0
	}
	return h.BestTotal()
}

// IsNatural reports a two-card ace plus ten
func (h Hand) IsNatural() bool {
	if len(h) != 2 {
		return false
	}
	return (h[0] == Ace && h[1] == Ten) || (h[0] == Ten && h[1] == Ace)
}

// Clone returns a copy that shares no storage with h
func (h Hand) Clone() Hand {
	if h == nil {
		return nil
	}
	out := make(Hand, len(h))
	copy(out, h)
	return out
}

func (h Hand) hasAce() bool {
	for _, rank := range h {
		if rank == Ace {
			return true
		}
	}
	return false
}
