package dashboard

import (
	"context"
	"errors"
	"testing"

	"eventportal/internal/donation"
	"eventportal/internal/event"
	"eventportal/internal/payment"
	"eventportal/internal/token"
)

func TestSummarizeCountsCapturedOnly(t *testing.T) {
	txs := []payment.Transaction{
		{Amount: 500, Status: payment.StatusCaptured},
		{Amount: 300, Status: payment.StatusCaptured},
		{Amount: 700, Status: payment.StatusCreated},
		{Amount: 900, Status: payment.StatusFailed},
	}
	st := Summarize(txs, nil, nil, nil, 0, 0)
	if st.Revenue.Online != 800 || st.Revenue.Total != 800 {
		t.Fatalf("revenue = %+v, want 800", st.Revenue)
	}
	if st.Transactions[payment.StatusCaptured] != 2 || st.Transactions[payment.StatusFailed] != 1 {
		t.Fatalf("status counts = %v", st.Transactions)
	}
}

func TestSummarizeAllSources(t *testing.T) {
	cos := []payment.CoTransaction{
		{Amount: 200, Status: payment.CoStatusPaid},
		{Amount: 400, Status: payment.CoStatusPending},
		{Amount: 100, Status: payment.CoStatusException},
	}
	dons := []donation.Donation{
		{Amount: 1000, Status: donation.StatusCaptured},
		{Amount: 50, Status: donation.StatusRefunded},
		{Amount: 75, Status: donation.StatusPending},
	}
	toks := []token.Token{{IsUsed: true}, {}, {}}
	txs := []payment.Transaction{{Amount: 500, Status: payment.StatusCaptured}, {Amount: 500, Status: payment.StatusRefunded}}

	st := Summarize(txs, cos, dons, toks, 12, 2)
	want := Revenue{Online: 500, Offline: 200, Donations: 1000, Total: 1700}
	if st.Revenue != want {
		t.Fatalf("revenue = %+v, want %+v", st.Revenue, want)
	}
	if st.Students != 12 || st.Events != 2 || st.Tokens != 3 || st.UsedTokens != 1 {
		t.Fatalf("counts = %+v", st)
	}
	if st.Donations[donation.StatusRefunded] != 1 || st.CoTransactions[payment.CoStatusPending] != 1 {
		t.Fatalf("status counts = %+v %+v", st.Donations, st.CoTransactions)
	}
}

type stubs struct {
	err error
}

func (s stubs) Count(context.Context) (int, error) { return 3, s.err }
func (stubs) List(context.Context) ([]event.Event, error) {
	return []event.Event{{ID: "e1"}}, nil
}

type payStub struct{}

func (payStub) List(context.Context, payment.ListFilter) ([]payment.Transaction, error) {
	return []payment.Transaction{{Amount: 500, Status: payment.StatusCaptured}}, nil
}

func (payStub) ListCoTransactions(context.Context, int, int) ([]payment.CoTransaction, error) {
	return []payment.CoTransaction{{Amount: 100, Status: payment.CoStatusPaid}}, nil
}

type donStub struct{}

func (donStub) List(context.Context, donation.ListFilter) ([]donation.Donation, error) {
	return []donation.Donation{{Amount: 50, Status: donation.StatusCaptured}}, nil
}

type tokStub struct{}

func (tokStub) List(context.Context, int, int) ([]token.Token, error) {
	return []token.Token{{IsUsed: true}}, nil
}

func TestServiceStats(t *testing.T) {
	svc := &Service{Students: stubs{}, Events: stubs{}, Payments: payStub{}, Donations: donStub{}, Tokens: tokStub{}}
	st, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Students != 3 || st.Events != 1 || st.UsedTokens != 1 || st.Revenue.Total != 650 {
		t.Fatalf("unexpected stats %+v", st)
	}

	boom := errors.New("db down")
	svc.Students = stubs{err: boom}
	if _, err := svc.Stats(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
