package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"leadmachine/pkg/ai"
	"leadmachine/pkg/domain"
	"leadmachine/pkg/queue"
	"leadmachine/pkg/storage"
	"leadmachine/pkg/store"
)

var acmeRequest = domain.GenerationRequest{CompanyURL: "https://acme.test", Description: "B2B SaaS for sales teams"}

func newTestApp(t *testing.T, cfg Config) (*App, *store.MemoryStore) {
	t.Helper()
	mem, _ := cfg.Store.(*store.MemoryStore)
	if mem == nil {
		mem = store.NewMemoryStore()
		cfg.Store = mem
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem
}

func TestGenerateSuccessChargesOneCredit(t *testing.T) {
	researcher := &fakeGenerator{text: "Here are your leads:\n" + tenLeadsJSON() + "\nGood luck!"}
	structurer := &fakeGenerator{}
	a, mem := newTestApp(t, Config{Researcher: researcher, Structurer: structurer})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 3, TotalUsed: 4})

	res, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Leads) != 10 || res.Outcome != OutcomeParsed || !res.Charged {
		t.Fatalf("unexpected result: outcome=%s leads=%d charged=%v", res.Outcome, len(res.Leads), res.Charged)
	}
	if structurer.Calls() != 0 {
		t.Fatalf("structuring model must not run when the array parses")
	}
	balance, _, _ := mem.GetCredits("u1")
	if balance.Balance != 2 || balance.TotalUsed != 5 {
		t.Fatalf("unexpected balance: %+v", balance)
	}

	export, ok, _ := mem.GetExport(res.ExportID)
	if !ok {
		t.Fatalf("export %q not stored", res.ExportID)
	}
	if export.Name != "acme.test leads" || export.LeadCount != 10 || export.OwnerUserID != "u1" {
		t.Fatalf("unexpected export: %+v", export)
	}
	for i := range res.Leads {
		if export.Leads[i] != res.Leads[i] {
			t.Fatalf("lead %d differs after round trip: %+v vs %+v", i, export.Leads[i], res.Leads[i])
		}
	}
	profile, ok, _ := mem.GetBusinessProfile("u1")
	if !ok || profile.CompanyURL != "https://acme.test" || profile.Description != "B2B SaaS for sales teams" {
		t.Fatalf("profile not upserted: %+v", profile)
	}
	if researcher.system != researchSystemPrompt {
		t.Fatalf("unexpected research system prompt: %q", researcher.system)
	}
}

func TestGenerateValidationMakesNoCalls(t *testing.T) {
	researcher := &fakeGenerator{text: tenLeadsJSON()}
	a, mem := newTestApp(t, Config{Researcher: researcher})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 3})

	for _, req := range []domain.GenerationRequest{
		{CompanyURL: "https://acme.test"},
		{Description: "B2B SaaS"},
		{CompanyURL: "   ", Description: "\t"},
	} {
		if _, err := a.Generate(context.Background(), domain.User{ID: "u1"}, req); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
	if researcher.Calls() != 0 {
		t.Fatalf("research called %d times", researcher.Calls())
	}
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 3 || b.TotalUsed != 0 {
		t.Fatalf("credits mutated: %+v", b)
	}
}

func TestGenerateZeroBalanceIsRefusedBeforeResearch(t *testing.T) {
	researcher := &fakeGenerator{text: tenLeadsJSON()}
	a, mem := newTestApp(t, Config{Researcher: researcher})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 0})

	if _, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	if _, err := a.Generate(context.Background(), domain.User{ID: "no-row"}, acmeRequest); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits for missing row, got %v", err)
	}
	if researcher.Calls() != 0 {
		t.Fatalf("research must not run without credits")
	}
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 0 {
		t.Fatalf("balance changed: %+v", b)
	}
}

func TestGenerateUpstreamErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &ai.StatusError{Provider: "perplexity", Status: http.StatusTooManyRequests, Body: "slow"}, ErrRateLimited},
		{"server error", &ai.StatusError{Provider: "perplexity", Status: http.StatusBadGateway, Body: "bad"}, ErrGenerationFailed},
		{"transport", errors.New("connection reset"), ErrGenerationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, mem := newTestApp(t, Config{Researcher: &fakeGenerator{err: tc.err}})
			mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 2})
			_, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if b, _, _ := mem.GetCredits("u1"); b.Balance != 2 {
				t.Fatalf("failed generation charged: %+v", b)
			}
			if items, _ := mem.ListExportsByOwner("u1", 0); len(items) != 0 {
				t.Fatalf("failed generation persisted an export")
			}
		})
	}
}

func TestGenerateWithoutResearcherIsNotConfigured(t *testing.T) {
	a, mem := newTestApp(t, Config{})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 1})
	if _, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected provider not configured, got %v", err)
	}
}

func TestGenerateDegradedIsNotChargedByDefault(t *testing.T) {
	researcher := &fakeGenerator{text: "I could not find companies matching [your criteria"}
	structurer := &fakeGenerator{text: "Sorry, nothing to extract."}
	archive := storage.NewMemoryStore()
	a, mem := newTestApp(t, Config{Researcher: researcher, Structurer: structurer, Objects: archive})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 3})

	res, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
	if err != nil {
		t.Fatalf("degraded generation must not fail: %v", err)
	}
	if res.Outcome != OutcomeDegraded || len(res.Leads) != 0 || res.Reason == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Charged || res.ExportID != "" {
		t.Fatalf("degraded generation charged or persisted: %+v", res)
	}
	if structurer.Calls() != 1 {
		t.Fatalf("structurer calls = %d, want 1", structurer.Calls())
	}
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 3 {
		t.Fatalf("balance changed: %+v", b)
	}
	if _, ok, _ := mem.GetBusinessProfile("u1"); !ok {
		t.Fatalf("profile should still be updated")
	}
	if keys := archive.Keys(); len(keys) != 0 {
		t.Fatalf("raw output archived without an export to own it: %v", keys)
	}
	if items, _ := mem.ListExportsByOwner("u1", 0); len(items) != 0 {
		t.Fatalf("unexpected exports: %+v", items)
	}
}

func TestGenerateDegradedChargedWhenConfigured(t *testing.T) {
	researcher := &fakeGenerator{text: "no json here"}
	structurer := &fakeGenerator{err: errors.New("structuring down")}
	archive := storage.NewMemoryStore()
	a, mem := newTestApp(t, Config{Researcher: researcher, Structurer: structurer, ChargeOnEmpty: true, Objects: archive})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 3})

	res, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Leads) != 0 || res.Outcome != OutcomeDegraded || !res.Charged {
		t.Fatalf("unexpected result: %+v", res)
	}
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 2 || b.TotalUsed != 1 {
		t.Fatalf("balance not decremented: %+v", b)
	}
	export, ok, _ := mem.GetExport(res.ExportID)
	if !ok || export.LeadCount != 0 {
		t.Fatalf("expected empty export, got %+v ok=%v", export, ok)
	}
	body, ok := archive.Get(storage.RawOutputKey("u1", res.ExportID))
	if !ok || string(body) != researcher.text {
		t.Fatalf("raw output not archived under the export: %q ok=%v keys=%v", body, ok, archive.Keys())
	}
}

func TestGenerateRecoveredThroughStructuringModel(t *testing.T) {
	researcher := &fakeGenerator{text: `[{"company_name": "Acme", oops}]`}
	structurer := &fakeGenerator{text: "```json\n[{\"company_name\":\"Acme\",\"role\":\"CEO\"}]\n```"}
	a, mem := newTestApp(t, Config{Researcher: researcher, Structurer: structurer})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 1})

	res, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Outcome != OutcomeRecovered || len(res.Leads) != 1 || res.Leads[0].Role != "CEO" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if structurer.user != researcher.text || structurer.system != structuringSystemPrompt {
		t.Fatalf("structurer did not receive raw research text")
	}
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 0 {
		t.Fatalf("recovered generation should be charged: %+v", b)
	}
}

func TestConcurrentGenerationsNeverOverdraw(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})
	researcher := &fakeGenerator{text: tenLeadsJSON(), beforeFn: func() {
		arrived.Done()
		<-release
	}}
	a, mem := newTestApp(t, Config{Researcher: researcher})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 1})

	type outcome struct {
		res GenerationResult
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
			results <- outcome{res, err}
		}()
	}
	// Both requests are past the gate before either charges.
	arrived.Wait()
	close(release)

	charged := 0
	for i := 0; i < 2; i++ {
		select {
		case o := <-results:
			if o.err != nil {
				t.Fatalf("generate: %v", o.err)
			}
			if len(o.res.Leads) != 10 {
				t.Fatalf("both callers still get their leads, got %d", len(o.res.Leads))
			}
			if o.res.Charged {
				charged++
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("generation did not finish")
		}
	}
	if charged != 1 {
		t.Fatalf("charged %d times, want 1", charged)
	}
	b, _, _ := mem.GetCredits("u1")
	if b.Balance != 0 || b.TotalUsed != 1 {
		t.Fatalf("unexpected balance after race: %+v", b)
	}
}

func TestExportWriteFailureRefundsWithoutQueue(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailCreateExport = errors.New("db down")
	a, _ := newTestApp(t, Config{Store: mem, Researcher: &fakeGenerator{text: tenLeadsJSON()}})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 3})

	res, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
	if err != nil {
		t.Fatalf("persistence failure must not fail the call: %v", err)
	}
	if len(res.Leads) != 10 || res.ExportID != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	b, _, _ := mem.GetCredits("u1")
	if b.Balance != 3 || b.TotalUsed != 1 {
		t.Fatalf("expected refund keeping usage count, got %+v", b)
	}
}

func TestExportWriteFailureIsQueued(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailCreateExport = errors.New("db down")
	retry := &fakeRetryQueue{}
	a, _ := newTestApp(t, Config{Store: mem, Researcher: &fakeGenerator{text: tenLeadsJSON()}, Retry: retry})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 3})

	if _, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(retry.jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(retry.jobs))
	}
	job := retry.jobs[0]
	if !job.Charged || job.Export.LeadCount != 10 || job.UserID != "u1" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 2 {
		t.Fatalf("queued write must not refund yet: %+v", b)
	}

	mem.SetFailCreateExport(nil)
	if err := a.HandlePersistJob(context.Background(), job); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if err := a.HandlePersistJob(context.Background(), job); err != nil {
		t.Fatalf("replayed job should be a no-op: %v", err)
	}
	if _, ok, _ := mem.GetExport(job.Export.ID); !ok {
		t.Fatalf("export not written by retry")
	}
}

func TestEnqueueFailureFallsBackToRefund(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailCreateExport = errors.New("db down")
	retry := &fakeRetryQueue{err: errors.New("redis down")}
	a, _ := newTestApp(t, Config{Store: mem, Researcher: &fakeGenerator{text: tenLeadsJSON()}, Retry: retry})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 1})

	if _, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 1 {
		t.Fatalf("expected refund, got %+v", b)
	}
}

func TestHandlePersistFailureRefundsChargedJobs(t *testing.T) {
	a, mem := newTestApp(t, Config{})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 0, TotalUsed: 1})

	a.HandlePersistFailure(context.Background(), queue.PersistJob{UserID: "u1", Charged: false}, errors.New("gone"))
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 0 {
		t.Fatalf("uncharged job must not refund: %+v", b)
	}
	a.HandlePersistFailure(context.Background(), queue.PersistJob{UserID: "u1", Charged: true}, errors.New("gone"))
	if b, _, _ := mem.GetCredits("u1"); b.Balance != 1 || b.TotalUsed != 1 {
		t.Fatalf("unexpected balance after refund: %+v", b)
	}
}

func TestHandlePersistFailureDropsArchive(t *testing.T) {
	archive := storage.NewMemoryStore()
	a, _ := newTestApp(t, Config{Objects: archive})
	key := storage.RawOutputKey("u1", "e9")
	_ = archive.Put(context.Background(), key, strings.NewReader("raw"), 3, "text/plain")

	a.HandlePersistFailure(context.Background(), queue.PersistJob{UserID: "u1", Export: domain.LeadExport{ID: "e9"}}, errors.New("gone"))
	if _, ok := archive.Get(key); ok {
		t.Fatalf("archive of an abandoned export should be removed")
	}
}

func TestChargeFailureDoesNotBlockResponse(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.FailCharge = errors.New("ledger unavailable")
	a, _ := newTestApp(t, Config{Store: mem, Researcher: &fakeGenerator{text: tenLeadsJSON()}})
	mem.SetCredits(domain.CreditBalance{UserID: "u1", Balance: 2})

	res, err := a.Generate(context.Background(), domain.User{ID: "u1"}, acmeRequest)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Charged || len(res.Leads) != 10 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
