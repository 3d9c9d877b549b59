package ledger

import (
	"github.com/replivm/canstate/model/cycles"
)

// ConsumedEntry is one use-case consumption record in a snapshot.
type ConsumedEntry struct {
	UseCase cycles.UseCase `json:"useCase"`
	Amount  cycles.Cycles  `json:"amount"`
}

// Snapshot is the stable serialized form of a Ledger. Consumption entries
// are sorted by use case for replica-identical encoding.
type Snapshot struct {
	Balance       cycles.Cycles   `json:"balance"`
	Reserved      cycles.Cycles   `json:"reserved"`
	ReservedLimit cycles.Cycles   `json:"reservedLimit"`
	Consumed      []ConsumedEntry `json:"consumed,omitempty"`
}

// Snapshot exports the ledger state.
func (l *Ledger) Snapshot() *Snapshot {
	s := &Snapshot{
		Balance:       l.balance,
		Reserved:      l.reserved,
		ReservedLimit: l.reservedLimit,
	}
	for _, useCase := range cycles.SortedUseCases(l.consumed) {
		s.Consumed = append(s.Consumed, ConsumedEntry{UseCase: useCase, Amount: l.consumed[useCase]})
	}
	return s
}

// FromSnapshot rebuilds a Ledger.
func FromSnapshot(s *Snapshot) *Ledger {
	if s == nil {
		return New(cycles.Zero(), cycles.Zero())
	}
	l := New(s.Balance, s.ReservedLimit)
	l.reserved = s.Reserved
	for _, entry := range s.Consumed {
		l.consumed[entry.UseCase] = entry.Amount
	}
	return l
}
