// Package dashboard aggregates admin statistics. Collections are loaded in
// full and reduced in memory, which is fine at portal scale.
package dashboard

import (
	"context"

	"golang.org/x/sync/errgroup"

	"eventportal/internal/donation"
	"eventportal/internal/event"
	"eventportal/internal/payment"
	"eventportal/internal/token"
)

// Stats is the payload of the admin overview.
type Stats struct {
	Students       int            `json:"students"`
	Events         int            `json:"events"`
	Tokens         int            `json:"tokens"`
	UsedTokens     int            `json:"used_tokens"`
	Transactions   map[string]int `json:"transactions"`
	CoTransactions map[string]int `json:"co_transactions"`
	Donations      map[string]int `json:"donations"`
	Revenue        Revenue        `json:"revenue"`
}

// Revenue in whole currency units.
type Revenue struct {
	Online    int64 `json:"online"`
	Offline   int64 `json:"offline"`
	Donations int64 `json:"donations"`
	Total     int64 `json:"total"`
}

// Summarize reduces the loaded collections. Only captured transactions,
// paid co-transactions and captured donations count as revenue.
func Summarize(txs []payment.Transaction, cos []payment.CoTransaction, dons []donation.Donation, toks []token.Token, students, events int) Stats {
	st := Stats{
		Students:       students,
		Events:         events,
		Tokens:         len(toks),
		Transactions:   map[string]int{},
		CoTransactions: map[string]int{},
		Donations:      map[string]int{},
	}
	for _, t := range toks {
		if t.IsUsed {
			st.UsedTokens++
		}
	}
	for _, t := range txs {
		st.Transactions[t.Status]++
		if t.Status == payment.StatusCaptured {
			st.Revenue.Online += t.Amount
		}
	}
	for _, c := range cos {
		st.CoTransactions[c.Status]++
		if c.Status == payment.CoStatusPaid {
			st.Revenue.Offline += c.Amount
		}
	}
	for _, d := range dons {
		st.Donations[d.Status]++
		if d.Status == donation.StatusCaptured {
			st.Revenue.Donations += d.Amount
		}
	}
	st.Revenue.Total = st.Revenue.Online + st.Revenue.Offline + st.Revenue.Donations
	return st
}

type (
	StudentCounter interface {
		Count(ctx context.Context) (int, error)
	}
	EventLister interface {
		List(ctx context.Context) ([]event.Event, error)
	}
	PaymentLister interface {
		List(ctx context.Context, f payment.ListFilter) ([]payment.Transaction, error)
		ListCoTransactions(ctx context.Context, limit, offset int) ([]payment.CoTransaction, error)
	}
	DonationLister interface {
		List(ctx context.Context, f donation.ListFilter) ([]donation.Donation, error)
	}
	TokenLister interface {
		List(ctx context.Context, limit, offset int) ([]token.Token, error)
	}
)

// Service loads every collection concurrently and summarizes them.
type Service struct {
	Students  StudentCounter
	Events    EventLister
	Payments  PaymentLister
	Donations DonationLister
	Tokens    TokenLister
}

// Stats computes the admin overview.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var (
		students int
		events   []event.Event
		txs      []payment.Transaction
		cos      []payment.CoTransaction
		dons     []donation.Donation
		toks     []token.Token
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { students, err = s.Students.Count(ctx); return })
	g.Go(func() (err error) { events, err = s.Events.List(ctx); return })
	g.Go(func() (err error) { txs, err = s.Payments.List(ctx, payment.ListFilter{}); return })
	g.Go(func() (err error) { cos, err = s.Payments.ListCoTransactions(ctx, 0, 0); return })
	g.Go(func() (err error) { dons, err = s.Donations.List(ctx, donation.ListFilter{}); return })
	g.Go(func() (err error) { toks, err = s.Tokens.List(ctx, 0, 0); return })
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return Summarize(txs, cos, dons, toks, students, len(events)), nil
}
