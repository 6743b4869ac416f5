package token

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"eventportal/internal/store"
)

// pgRepo connects to TEST_DATABASE_URL and seeds one event and one student.
// The test is skipped when the variable is unset.
func pgRepo(t *testing.T) (*Repository, string, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := store.NewDB(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	eventID, studentID := "evt-"+uuid.NewString(), "stu-"+uuid.NewString()
	if _, err := db.Client.ExecContext(ctx,
		`INSERT INTO events (id, name, starts_at, ends_at) VALUES ($1, 'Test Meet', NOW(), NOW() + INTERVAL '1 hour')`, eventID); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if _, err := db.Client.ExecContext(ctx,
		`INSERT INTO students (id, name, email, phone) VALUES ($1, 'Test Student', $1 || '@example.com', '9876543210')`, studentID); err != nil {
		t.Fatalf("seed student: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Client.ExecContext(ctx, `DELETE FROM tokens WHERE event_id = $1`, eventID)
		_, _ = db.Client.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, studentID)
		_, _ = db.Client.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, eventID)
	})
	return NewRepository(db), eventID, studentID
}

func TestPostgresConcurrentIssueCreatesOneToken(t *testing.T) {
	repo, eventID, studentID := pgRepo(t)
	svc := NewService(repo, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, inserted, err := svc.Issue(context.Background(), IssueInput{EventID: eventID, StudentID: studentID})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("issue: %v", err)
				return
			}
			ids[tok.ID] = true
			if inserted {
				created++
			}
		}()
	}
	wg.Wait()
	if len(ids) != 1 || created != 1 {
		t.Fatalf("distinct tokens = %d, inserts = %d; want 1 and 1", len(ids), created)
	}
}

func TestPostgresMarkUsedAtMostOnce(t *testing.T) {
	repo, eventID, studentID := pgRepo(t)
	tok, _, err := NewService(repo, nil).Issue(context.Background(), IssueInput{EventID: eventID, StudentID: studentID})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.MarkUsed(context.Background(), tok.Code, "scanner-1", time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrTokenUsed):
				rejected++
			default:
				t.Errorf("mark used: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted != 1 || rejected != 15 {
		t.Fatalf("accepted = %d, rejected = %d", accepted, rejected)
	}
	if _, err := repo.MarkUsed(context.Background(), "NOPE234567", "scanner-1", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown code err = %v", err)
	}
}
