package triage

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// MaxNameLength bounds the patient name in runes
	MaxNameLength = 100
	// MaxAge is the oldest accepted patient age
	MaxAge = 150
)

var (
	// ErrEmptyQueue indicates there is no admission to dispatch
	ErrEmptyQueue = errors.New("no patients in queue")
	// ErrInvalidAdmission indicates the admission request failed validation
	ErrInvalidAdmission = errors.New("invalid admission")
)

// Admission is one patient waiting in the triage queue
type Admission struct {
	Sequence   int64        `json:"id"`
	Name       string       `json:"name"`
	Age        int          `json:"age"`
	Symptom    string       `json:"symptom"`
	Tier       SeverityTier `json:"-"`
	AdmittedAt time.Time    `json:"admitted_at"`
	Resource   string       `json:"doctor"`
}

// AdmissionView is an admission annotated with its place in the queue
type AdmissionView struct {
	Admission
	Position int    `json:"queue_position"`
	WaitTime string `json:"wait_time"`
}

// Dispatch is the result of treating the next patient
type Dispatch struct {
	Admission
	WaitedMinutes int `json:"waited_minutes"`
	Remaining     int `json:"remaining"`
}

// TierCounts holds pending admissions per tier
type TierCounts struct {
	Critical int `json:"critical"`
	Serious  int `json:"serious"`
	Moderate int `json:"moderate"`
	Normal   int `json:"normal"`
}

// Total returns the sum across tiers
func (c TierCounts) Total() int {
	return c.Critical + c.Serious + c.Moderate + c.Normal
}

// Get returns the count for one tier
func (c TierCounts) Get(tier SeverityTier) int {
	switch tier {
	case TierCritical:
		return c.Critical
	case TierSerious:
		return c.Serious
	case TierModerate:
		return c.Moderate
	case TierNormal:
		return c.Normal
	}
	return 0
}

func (c *TierCounts) add(tier SeverityTier) {
	switch tier {
	case TierCritical:
		c.Critical++
	case TierSerious:
		c.Serious++
	case TierModerate:
		c.Moderate++
	case TierNormal:
		c.Normal++
	}
}

// Config holds queue configuration
type Config struct {
	// Resources is the care resource pool; defaults to DefaultResourcePool
	Resources *ResourcePool
	// Clock returns the current time; defaults to time.Now
	Clock func() time.Time
}

// Queue orders admissions by (tier, arrival sequence) and dispatches the head.
// All methods are safe for concurrent use. Mutations are serialized; readers
// see a consistent snapshot.
type Queue struct {
	mu        sync.RWMutex
	pending   admissionHeap
	arrivals  int64
	rotation  uint64
	resources *ResourcePool
	clock     func() time.Time
	logger    *zap.Logger
}

// NewQueue creates an empty triage queue
func NewQueue(cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Resources == nil {
		cfg.Resources = DefaultResourcePool()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Queue{
		resources: cfg.Resources,
		clock:     cfg.Clock,
		logger:    logger,
	}
}

// Admit classifies the symptom and enqueues a new admission.
// Nothing is mutated unless the request is valid.
func (q *Queue) Admit(name string, age int, symptom string) (*AdmissionView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAdmission)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidAdmission, MaxNameLength)
	}
	if age < 0 || age > MaxAge {
		return nil, fmt.Errorf("%w: age must be between 0 and %d", ErrInvalidAdmission, MaxAge)
	}
	tier, err := Classify(symptom)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rotation := q.rotation + 1
	resource, err := q.resources.Assign(tier, rotation)
	if err != nil {
		return nil, err
	}
	q.rotation = rotation
	q.arrivals++

	adm := &Admission{
		Sequence:   q.arrivals,
		Name:       name,
		Age:        age,
		Symptom:    NormalizeSymptom(symptom),
		Tier:       tier,
		AdmittedAt: q.clock(),
		Resource:   resource,
	}
	heap.Push(&q.pending, adm)

	position := 1
	for _, other := range q.pending {
		if other != adm && other.before(adm) {
			position++
		}
	}

	q.logger.Info("patient admitted",
		zap.Int64("sequence", adm.Sequence),
		zap.String("tier", tier.String()),
		zap.String("resource", resource),
		zap.Int("queue_position", position))

	return &AdmissionView{Admission: *adm, Position: position, WaitTime: formatWait(0)}, nil
}

// ListAdmissions returns pending admissions in dispatch order
func (q *Queue) ListAdmissions() []AdmissionView {
	q.mu.RLock()
	snapshot := make([]*Admission, len(q.pending))
	copy(snapshot, q.pending)
	q.mu.RUnlock()

	slices.SortFunc(snapshot, compareAdmissions)

	now := q.clock()
	views := make([]AdmissionView, len(snapshot))
	for i, adm := range snapshot {
		views[i] = AdmissionView{
			Admission: *adm,
			Position:  i + 1,
			WaitTime:  formatWait(now.Sub(adm.AdmittedAt)),
		}
	}
	return views
}

// DispatchNext removes and returns the most urgent, earliest admission
func (q *Queue) DispatchNext() (*Dispatch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() == 0 {
		return nil, ErrEmptyQueue
	}
	adm := heap.Pop(&q.pending).(*Admission)
	waited := int(q.clock().Sub(adm.AdmittedAt) / time.Minute)
	if waited < 0 {
		waited = 0
	}

	q.logger.Info("patient dispatched",
		zap.Int64("sequence", adm.Sequence),
		zap.String("tier", adm.Tier.String()),
		zap.String("resource", adm.Resource),
		zap.Int("waited_minutes", waited))

	return &Dispatch{Admission: *adm, WaitedMinutes: waited, Remaining: q.pending.Len()}, nil
}

// Stats returns pending counts per tier
func (q *Queue) Stats() TierCounts {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var counts TierCounts
	for _, adm := range q.pending {
		counts.add(adm.Tier)
	}
	return counts
}

// Len returns the number of pending admissions
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pending.Len()
}

// Arrivals returns the last allocated arrival sequence
func (q *Queue) Arrivals() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.arrivals
}

// ClearAll discards every pending admission and resets the arrival and
// rotation counters. It returns the number of admissions discarded.
func (q *Queue) ClearAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.pending.Len()
	q.pending = nil
	q.arrivals = 0
	q.rotation = 0

	q.logger.Warn("triage queue cleared", zap.Int("discarded", n))
	return n
}

func (a *Admission) before(b *Admission) bool {
	return compareAdmissions(a, b) < 0
}

func compareAdmissions(a, b *Admission) int {
	if a.Tier != b.Tier {
		return int(a.Tier) - int(b.Tier)
	}
	switch {
	case a.Sequence < b.Sequence:
		return -1
	case a.Sequence > b.Sequence:
		return 1
	}
	return 0
}

// formatWait renders elapsed wait time the way the front desk displays it
func formatWait(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%d sec ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%d min ago", secs/60)
	default:
		return fmt.Sprintf("%d hr ago", secs/3600)
	}
}

// admissionHeap is a min-heap keyed by (tier, sequence)
type admissionHeap []*Admission

func (h admissionHeap) Len() int           { return len(h) }
func (h admissionHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h admissionHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *admissionHeap) Push(x any) {
	*h = append(*h, x.(*Admission))
}

func (h *admissionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
