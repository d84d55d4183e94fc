package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"leadmachine/pkg/domain"
	"leadmachine/pkg/queue"
)

type fakeGenerator struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	system   string
	user     string
	beforeFn func()
}

func (f *fakeGenerator) GenerateText(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.system, f.user = system, user
	before := f.beforeFn
	f.mu.Unlock()
	if before != nil {
		before()
	}
	return f.text, f.err
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRetryQueue struct {
	mu   sync.Mutex
	jobs []queue.PersistJob
	err  error
}

func (q *fakeRetryQueue) Enqueue(_ context.Context, userID string, export domain.LeadExport, charged bool) (queue.PersistJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.PersistJob{}, q.err
	}
	job := queue.PersistJob{ID: fmt.Sprintf("job-%d", len(q.jobs)+1), UserID: userID, Export: export, Charged: charged, Status: queue.StatusQueued}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func tenLeadsJSON() string {
	leads := make([]map[string]any, 0, 10)
	for i := 1; i <= 10; i++ {
		leads = append(leads, map[string]any{
			"company_name":   fmt.Sprintf("Company %d", i),
			"contact_person": fmt.Sprintf("Person %d", i),
			"role":           "Head of Sales",
			"website":        fmt.Sprintf("https://c%d.test", i),
			"email":          fmt.Sprintf("sales@c%d.test", i),
			"phone":          "",
			"industry":       "SaaS",
			"fit_reason":     "Runs a large outbound team.",
		})
	}
	raw, _ := json.Marshal(leads)
	return string(raw)
}
