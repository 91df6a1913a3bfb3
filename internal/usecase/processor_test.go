package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"timeflow/internal/domain"
)

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *fakeDedup) ShouldProcess(ctx context.Context, tenantID, eventID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := tenantID + "|" + eventID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func newTestProcessor(t *testing.T, dedup DedupCache, store RuleStore, client EntryClient) *Processor {
	t.Helper()
	sink := &captureSink{}
	engine, err := NewEngine(store, NewConditionEvaluator(sink))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	creds := &staticCredStore{cred: domain.Credential{
		TenantID:      "acme",
		CurrentSecret: "secret",
		APIBase:       "https://tracker.example",
	}}
	executor, err := NewExecutor(creds, client, nil, sink, nil, ExecutorConfig{
		MaxAttempts: 2,
		RetryBase:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	processor, err := NewProcessor(dedup, engine, executor, sink, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return processor
}

func meetingRule() []domain.Rule {
	return []domain.Rule{{
		ID:         "r1",
		TenantID:   "acme",
		Enabled:    true,
		Combinator: domain.CombinatorAnd,
		Conditions: []domain.Condition{descContains("meeting"), hasTag("client-tag")},
		Actions:    []domain.Action{addTag("billable")},
	}}
}

func TestProcessorEndToEnd(t *testing.T) {
	client := &fakeEntryClient{entry: domain.EntryPayload{
		Description: "Client meeting",
		TagIDs:      []string{"client-tag"},
	}}
	p := newTestProcessor(t, &fakeDedup{}, &staticRuleStore{rules: meetingRule()}, client)

	report, err := p.Process(context.Background(), testEvent(), domain.ModeLive)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !report.Matched() {
		t.Fatal("report.Matched() = false, want rule match")
	}
	if report.AppliedCount != 1 {
		t.Fatalf("appliedCount = %d, want 1", report.AppliedCount)
	}
	if got := client.mutations(); len(got) != 1 || got[0] != "add_tag:billable" {
		t.Fatalf("mutations = %v, want one add_tag", got)
	}
}

func TestProcessorNoMatchWithoutTag(t *testing.T) {
	client := &fakeEntryClient{}
	p := newTestProcessor(t, &fakeDedup{}, &staticRuleStore{rules: meetingRule()}, client)

	event := testEvent()
	event.Payload.TagIDs = []string{}
	report, err := p.Process(context.Background(), event, domain.ModeLive)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Matched() || report.AppliedCount != 0 {
		t.Fatalf("report = %+v, want no match and no actions", report)
	}
	if len(client.calls) != 0 {
		t.Fatalf("outbound calls = %v, want none", client.calls)
	}
}

func TestProcessorDeduplicatesRedelivery(t *testing.T) {
	client := &fakeEntryClient{entry: domain.EntryPayload{
		Description: "Client meeting",
		TagIDs:      []string{"client-tag"},
	}}
	p := newTestProcessor(t, &fakeDedup{}, &staticRuleStore{rules: meetingRule()}, client)

	first, err := p.Process(context.Background(), testEvent(), domain.ModeLive)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first delivery flagged duplicate")
	}

	second, err := p.Process(context.Background(), testEvent(), domain.ModeLive)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second delivery not flagged duplicate")
	}
	if got := client.mutations(); len(got) != 1 {
		t.Fatalf("mutations = %v, want exactly one across both deliveries", got)
	}
}

func TestProcessorDedupFailsOpen(t *testing.T) {
	client := &fakeEntryClient{entry: domain.EntryPayload{
		Description: "Client meeting",
		TagIDs:      []string{"client-tag"},
	}}
	dedup := &fakeDedup{err: errors.New("backend down")}
	p := newTestProcessor(t, dedup, &staticRuleStore{rules: meetingRule()}, client)

	report, err := p.Process(context.Background(), testEvent(), domain.ModeLive)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Duplicate {
		t.Fatal("event dropped on dedup failure, want fail-open processing")
	}
	if report.AppliedCount != 1 {
		t.Fatalf("appliedCount = %d, want 1", report.AppliedCount)
	}
}

func TestProcessorDryRunSkipsDedupAndCalls(t *testing.T) {
	client := &fakeEntryClient{}
	dedup := &fakeDedup{}
	p := newTestProcessor(t, dedup, &staticRuleStore{rules: meetingRule()}, client)

	for i := 0; i < 2; i++ {
		report, err := p.Process(context.Background(), testEvent(), domain.ModeDryRun)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if report.Duplicate {
			t.Fatal("dry run consumed the dedup slot")
		}
		if !report.Matched() || report.AppliedCount != 1 {
			t.Fatalf("report = %+v, want match with one would-apply action", report)
		}
	}
	if len(client.calls) != 0 {
		t.Fatalf("outbound calls in dry run: %v", client.calls)
	}

	// The live delivery afterwards is still first in the dedup window.
	report, err := p.Process(context.Background(), testEvent(), domain.ModeLive)
	if err != nil {
		t.Fatalf("live Process: %v", err)
	}
	if report.Duplicate {
		t.Fatal("live delivery after dry runs flagged duplicate")
	}
}

func TestProcessorStoreFailurePropagates(t *testing.T) {
	p := newTestProcessor(t, &fakeDedup{}, &staticRuleStore{err: errors.New("down")}, &fakeEntryClient{})

	_, err := p.Process(context.Background(), testEvent(), domain.ModeLive)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestProcessorRejectsAfterShutdown(t *testing.T) {
	p := newTestProcessor(t, &fakeDedup{}, &staticRuleStore{}, &fakeEntryClient{})
	p.Shutdown()

	_, err := p.Process(context.Background(), testEvent(), domain.ModeLive)
	if !errors.Is(err, domain.ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}

func TestProcessorConcurrentDistinctEvents(t *testing.T) {
	client := &fakeEntryClient{entry: domain.EntryPayload{
		Description: "Client meeting",
		TagIDs:      []string{"client-tag", "billable"},
	}}
	p := newTestProcessor(t, &fakeDedup{}, &staticRuleStore{rules: meetingRule()}, client)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := testEvent()
			event.ID = "e" + string(rune('0'+i))
			event.EntityID = event.ID
			if _, err := p.Process(context.Background(), event, domain.ModeLive); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Process: %v", err)
	}
}
