package services

import (
	"fmt"
	"parley/internal/core/domain"
	"sync"
	"time"

	"github.com/google/uuid"
)

type callEntry struct {
	session domain.CallSession
	timer   *time.Timer
}

// CallLedger remembers the calls the relay has minted until they end, so
// signaling for unknown calls or from outsiders can be refused.
type CallLedger struct {
	mu          sync.Mutex
	calls       map[uuid.UUID]*callEntry
	ringTimeout time.Duration
	onExpire    func(domain.CallSession)
	now         func() time.Time
}

// NewCallLedger returns an empty ledger. When ringTimeout is positive, a call
// still ringing after it is removed and passed to onExpire.
func NewCallLedger(ringTimeout time.Duration, onExpire func(domain.CallSession)) *CallLedger {
	return &CallLedger{
		calls:       make(map[uuid.UUID]*callEntry),
		ringTimeout: ringTimeout,
		onExpire:    onExpire,
		now:         time.Now,
	}
}

// Open mints a call id and records a ringing call.
func (l *CallLedger) Open(callerID, calleeID int64) domain.CallSession {
	now := l.now()
	s := domain.CallSession{
		ID:        uuid.New(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		State:     domain.CallRinging,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e := &callEntry{session: s}
	l.mu.Lock()
	l.calls[s.ID] = e
	if l.ringTimeout > 0 {
		id := s.ID
		e.timer = time.AfterFunc(l.ringTimeout, func() { l.expire(id) })
	}
	l.mu.Unlock()
	return s
}

func (l *CallLedger) Get(callID string) (domain.CallSession, bool) {
	id, err := uuid.Parse(callID)
	if err != nil {
		return domain.CallSession{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.calls[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return e.session, true
}

// Answer moves a ringing call to connecting. Only the callee may answer.
func (l *CallLedger) Answer(callID string, by int64) (domain.CallSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.lookup(callID, by)
	if err != nil {
		return domain.CallSession{}, err
	}
	if by != e.session.CalleeID {
		return domain.CallSession{}, fmt.Errorf("%w: only the callee can answer", domain.ErrNotCallParty)
	}
	if e.session.State != domain.CallRinging {
		return domain.CallSession{}, fmt.Errorf("%w: call is %s", domain.ErrCallNotFound, e.session.State)
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.session.State = domain.CallConnecting
	e.session.UpdatedAt = l.now()
	return e.session, nil
}

// Touch records signaling activity from a party. The first activity after
// an answer marks the call connected.
func (l *CallLedger) Touch(callID string, by int64) (domain.CallSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.lookup(callID, by)
	if err != nil {
		return domain.CallSession{}, err
	}
	if e.session.State == domain.CallConnecting {
		e.session.State = domain.CallConnected
		e.session.UpdatedAt = l.now()
	}
	return e.session, nil
}

// End removes the call. The returned session is in state ended.
func (l *CallLedger) End(callID string, by int64) (domain.CallSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.lookup(callID, by)
	if err != nil {
		return domain.CallSession{}, err
	}
	l.remove(e)
	return e.session, nil
}

// EndAllFor removes every call userID is a party of and returns them in
// state ended.
func (l *CallLedger) EndAllFor(userID int64) []domain.CallSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ended []domain.CallSession
	for _, e := range l.calls {
		if !e.session.Involves(userID) {
			continue
		}
		l.remove(e)
		ended = append(ended, e.session)
	}
	return ended
}

// Len returns the number of calls not yet ended.
func (l *CallLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// lookup requires l.mu.
func (l *CallLedger) lookup(callID string, by int64) (*callEntry, error) {
	id, err := uuid.Parse(callID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrCallNotFound, callID)
	}
	e, ok := l.calls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCallNotFound, id)
	}
	if !e.session.Involves(by) {
		return nil, fmt.Errorf("%w: user %d", domain.ErrNotCallParty, by)
	}
	return e, nil
}

// remove requires l.mu.
func (l *CallLedger) remove(e *callEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	delete(l.calls, e.session.ID)
	e.session.State = domain.CallEnded
	e.session.UpdatedAt = l.now()
}

func (l *CallLedger) expire(id uuid.UUID) {
	l.mu.Lock()
	e, ok := l.calls[id]
	if !ok || e.session.State != domain.CallRinging {
		l.mu.Unlock()
		return
	}
	e.timer = nil
	l.remove(e)
	s := e.session
	l.mu.Unlock()
	if l.onExpire != nil {
		l.onExpire(s)
	}
}
