package timing

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Category identifies one independently timed action kind.
type Category int

const (
	CategoryAttack Category = iota
	CategoryCast
	CategoryHeal
	CategoryDevice

	numCategories
)

// String returns the audit tag for the Category.
func (c Category) String() string {
	switch c {
	case CategoryAttack:
		return "attack"
	case CategoryCast:
		return "cast"
	case CategoryHeal:
		return "heal"
	case CategoryDevice:
		return "device"
	default:
		return "unknown"
	}
}

// CancelReason explains why an in-flight action was cancelled.
type CancelReason string

const (
	CancelInterrupted  CancelReason = "interrupted"
	CancelSuperseded   CancelReason = "superseded"
	CancelActorRemoved CancelReason = "actor_removed"
	CancelExplicit     CancelReason = "explicit"
)

// CooldownSource abstracts where next-eligible times live. Independent-timer
// mode keeps them local to the TimerState; shared-timer mode delegates to the
// surrounding game engine's single cooldown field. Callers of TimerState
// never know which is active.
type CooldownSource interface {
	NextTime(cat Category) time.Time
	SetNextTime(cat Category, t time.Time)
}

// localCooldowns is the independent-timer CooldownSource.
type localCooldowns struct {
	next [numCategories]time.Time
}

func (l *localCooldowns) NextTime(cat Category) time.Time       { return l.next[cat] }
func (l *localCooldowns) SetNextTime(cat Category, t time.Time) { l.next[cat] = t }

// sharedCooldown is the shared-timer CooldownSource: one next-eligible time
// gates every category, matching engines that keep a single cooldown field per
// actor. Access is serialized by the owning TimerState's mutex.
type sharedCooldown struct {
	next time.Time
}

func (s *sharedCooldown) NextTime(_ Category) time.Time       { return s.next }
func (s *sharedCooldown) SetNextTime(_ Category, t time.Time) { s.next = t }

// BlockMatrix maps a busy category to the categories it blocks while busy.
// The default disallows attacking, bandaging, and device use mid-cast, and
// casting while bandaging or using a device.
type BlockMatrix map[Category][]Category

// DefaultBlockMatrix returns the standard cross-category blocking rules.
func DefaultBlockMatrix() BlockMatrix {
	return BlockMatrix{
		CategoryCast:   {CategoryAttack, CategoryHeal, CategoryDevice},
		CategoryHeal:   {CategoryCast},
		CategoryDevice: {CategoryCast},
	}
}

// TimerState is the per-actor action timing record: next-eligible times per
// category, busy flags, and per-category in-flight weapon contexts. All
// methods are safe for concurrent use.
//
// States per category: Idle -> Busy -> Idle. A swing never holds Busy: its
// SetNextTime stamps eligibility and immediately returns to Idle
// (fire-and-forget), whereas casting/bandaging/device use stay Busy until
// completed or cancelled.
type TimerState struct {
	mu       sync.Mutex
	cool     CooldownSource
	busy     [numCategories]bool
	beganAt  [numCategories]time.Time
	inFlight [numCategories]*WeaponEntry
	blocks   BlockMatrix

	actorID    string
	logger     *zap.Logger
	logCancels bool
	now        func() time.Time
}

// TimerStateOption customizes a TimerState at construction.
type TimerStateOption func(*TimerState)

// WithCooldownSource switches the state into shared-timer mode, reading and
// writing next-eligible times through src instead of local storage.
func WithCooldownSource(src CooldownSource) TimerStateOption {
	return func(s *TimerState) { s.cool = src }
}

// WithSharedTimers gives the state its own single cooldown gating every
// category, for deployments without an engine-owned field to delegate to.
func WithSharedTimers() TimerStateOption {
	return func(s *TimerState) { s.cool = &sharedCooldown{} }
}

// WithBlockMatrix overrides the default cross-category blocking rules.
func WithBlockMatrix(m BlockMatrix) TimerStateOption {
	return func(s *TimerState) { s.blocks = m }
}

// WithCancelLogging enables reporting of every Cancel through the logger.
func WithCancelLogging(enabled bool) TimerStateOption {
	return func(s *TimerState) { s.logCancels = enabled }
}

// WithClock overrides the time source. Tests use this for determinism.
func WithClock(now func() time.Time) TimerStateOption {
	return func(s *TimerState) { s.now = now }
}

// NewTimerState creates an idle TimerState for actorID.
//
// Precondition: logger must be non-nil.
// Postcondition: Every category is Idle and immediately eligible.
func NewTimerState(actorID string, logger *zap.Logger, opts ...TimerStateOption) *TimerState {
	s := &TimerState{
		cool:       &localCooldowns{},
		blocks:     DefaultBlockMatrix(),
		actorID:    actorID,
		logger:     logger,
		logCancels: true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin transitions cat from Idle to Busy and records the in-flight context.
// When a conflicting category is already Busy, the most-recently-initiated
// action wins: the older one is cancelled (CancelSuperseded) and Begin
// proceeds.
//
// Postcondition: Returns true and cat is Busy, or false if cat itself was
// already Busy.
func (s *TimerState) Begin(cat Category, ctx *WeaponEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[cat] {
		return false
	}
	for blocker, blocked := range s.blocks {
		if !s.busy[blocker] {
			continue
		}
		for _, b := range blocked {
			if b == cat {
				s.cancelLocked(blocker, CancelSuperseded)
			}
		}
	}
	s.busy[cat] = true
	s.beganAt[cat] = s.now()
	s.inFlight[cat] = ctx
	return true
}

// SetNextTime stamps cat's next-eligible time to now + d. For CategoryAttack
// this also returns the category to Idle: a swing is eligibility bookkeeping,
// not a blocking state.
func (s *TimerState) SetNextTime(cat Category, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cool.SetNextTime(cat, s.now().Add(d))
	if cat == CategoryAttack {
		s.busy[cat] = false
		s.inFlight[cat] = nil
	}
}

// Cancel transitions cat from Busy back to Idle. No-op when already Idle.
// The reason is reported through the logger when cancel logging is enabled.
func (s *TimerState) Cancel(cat Category, reason CancelReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(cat, reason)
}

// cancelLocked requires s.mu held.
func (s *TimerState) cancelLocked(cat Category, reason CancelReason) {
	if !s.busy[cat] {
		return
	}
	s.busy[cat] = false
	s.inFlight[cat] = nil
	if s.logCancels && s.logger != nil {
		s.logger.Debug("action cancelled",
			zap.String("actor_id", s.actorID),
			zap.String("category", cat.String()),
			zap.String("reason", string(reason)),
		)
	}
}

// CanPerform reports whether cat is eligible right now: its next-eligible
// time has elapsed, it is not itself Busy, and no overlapping Busy category
// blocks it per the block matrix.
func (s *TimerState) CanPerform(cat Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[cat] {
		return false
	}
	if s.now().Before(s.cool.NextTime(cat)) {
		return false
	}
	for blocker, blocked := range s.blocks {
		if !s.busy[blocker] {
			continue
		}
		for _, b := range blocked {
			if b == cat {
				return false
			}
		}
	}
	return true
}

// NextTime returns cat's next-eligible time.
func (s *TimerState) NextTime(cat Category) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cool.NextTime(cat)
}

// Busy reports whether cat is currently in a blocking Busy state.
func (s *TimerState) Busy(cat Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[cat]
}

// InFlight returns the weapon context of cat's action in progress, or nil.
func (s *TimerState) InFlight(cat Category) *WeaponEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[cat]
}

// CancelAll cancels every Busy category with the given reason.
func (s *TimerState) CancelAll(reason CancelReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cat := Category(0); cat < numCategories; cat++ {
		s.cancelLocked(cat, reason)
	}
}

// StateTable is the process-wide container of TimerStates keyed by actor ID.
// Entries are created on first use and removed explicitly when the engine
// reports the actor destroyed; the table never keeps a destroyed actor's
// state alive.
type StateTable struct {
	mu     sync.RWMutex
	states map[string]*TimerState
	logger *zap.Logger
	opts   []TimerStateOption
}

// NewStateTable creates an empty StateTable. opts are applied to every
// TimerState the table creates.
//
// Precondition: logger must be non-nil.
func NewStateTable(logger *zap.Logger, opts ...TimerStateOption) *StateTable {
	return &StateTable{
		states: make(map[string]*TimerState),
		logger: logger,
		opts:   opts,
	}
}

// Get returns the TimerState for actorID, creating it if absent. Safe for
// concurrent use.
func (t *StateTable) Get(actorID string) *TimerState {
	t.mu.RLock()
	s, ok := t.states[actorID]
	t.mu.RUnlock()
	if ok {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[actorID]; ok {
		return s
	}
	s = NewTimerState(actorID, t.logger, t.opts...)
	t.states[actorID] = s
	return s
}

// Peek returns the TimerState for actorID without creating one.
func (t *StateTable) Peek(actorID string) (*TimerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[actorID]
	return s, ok
}

// Remove drops actorID's state, cancelling anything in flight. Called from
// the actor-removed notification path.
func (t *StateTable) Remove(actorID string) {
	t.mu.Lock()
	s, ok := t.states[actorID]
	delete(t.states, actorID)
	t.mu.Unlock()
	if ok {
		s.CancelAll(CancelActorRemoved)
	}
}

// Len returns the number of tracked actors.
func (t *StateTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
