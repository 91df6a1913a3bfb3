package usecase

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/sirupsen/logrus"

	"timeflow/internal/domain"
)

// DedupCache gates redelivered events. ShouldProcess returns true exactly
// once per (tenant, event id) fingerprint inside the TTL window, even under
// concurrent duplicate delivery.
type DedupCache interface {
	ShouldProcess(ctx context.Context, tenantID, eventID string) (bool, error)
}

const entityLockStripes = 64

// Processor runs the webhook pipeline: dedup gate, rule evaluation, action
// execution. Events for different tenants and entities proceed in parallel;
// deliveries for the same entity are serialized through a striped lock so
// actions land in delivery order where feasible.
type Processor struct {
	dedup    DedupCache
	engine   *Engine
	executor *Executor
	sink     DiagnosticsSink
	log      *logrus.Logger

	locks [entityLockStripes]sync.Mutex

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

func NewProcessor(dedup DedupCache, engine *Engine, executor *Executor, sink DiagnosticsSink, log *logrus.Logger) (*Processor, error) {
	if engine == nil {
		return nil, errors.New("rule engine is required")
	}
	if executor == nil {
		return nil, errors.New("action executor is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{
		dedup:    dedup,
		engine:   engine,
		executor: executor,
		sink:     sink,
		log:      log,
	}, nil
}

// Process handles one delivery. Dry-run deliveries skip the dedup gate and
// the entity lock; they have no side effects to order or deduplicate.
func (p *Processor) Process(ctx context.Context, event domain.WebhookEvent, mode domain.ExecutionMode) (domain.ExecutionReport, error) {
	report := domain.ExecutionReport{
		TenantID: event.TenantID,
		EventID:  event.ID,
		Mode:     mode,
		Status:   domain.ExecutionSucceeded,
	}
	if event.TenantID == "" || event.ID == "" {
		return report, errors.New("event tenant id and id are required")
	}

	if !p.begin() {
		return report, domain.ErrShuttingDown
	}
	defer p.inFlight.Done()

	if mode == domain.ModeLive {
		if !p.passDedup(ctx, event) {
			report.Duplicate = true
			return report, nil
		}
		lock := p.entityLock(event.TenantID, event.EntityID)
		lock.Lock()
		defer lock.Unlock()
	}

	matched, err := p.engine.Evaluate(ctx, event.TenantID, event)
	if err != nil {
		if p.sink != nil {
			p.sink.Report(Diagnostic{
				Kind:     DiagStoreFailure,
				TenantID: event.TenantID,
				EventID:  event.ID,
				Message:  err.Error(),
			})
		}
		return report, err
	}

	return p.executor.Apply(ctx, event, matched, mode)
}

// passDedup fails open: a broken dedup backend must not drop events, since
// the action layer absorbs the occasional duplicate.
func (p *Processor) passDedup(ctx context.Context, event domain.WebhookEvent) bool {
	if p.dedup == nil {
		return true
	}
	first, err := p.dedup.ShouldProcess(ctx, event.TenantID, event.ID)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"tenant_id": event.TenantID,
			"event_id":  event.ID,
		}).WithError(err).Warn("dedup cache unavailable, processing anyway")
		if p.sink != nil {
			p.sink.Report(Diagnostic{
				Kind:     DiagDedupFailure,
				TenantID: event.TenantID,
				EventID:  event.ID,
				Message:  err.Error(),
			})
		}
		return true
	}
	return first
}

func (p *Processor) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inFlight.Add(1)
	return true
}

// Shutdown stops accepting new deliveries and waits for in-flight ones.
// Already-dispatched outbound calls run to completion; pending retries stop
// via the context passed to Process.
func (p *Processor) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.inFlight.Wait()
}

func (p *Processor) entityLock(tenantID, entityID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(entityID))
	return &p.locks[h.Sum32()%entityLockStripes]
}
