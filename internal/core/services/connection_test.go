package services

import (
	"context"
	"errors"
	"parley/internal/app/registry"
	"parley/internal/core/domain"
	"parley/internal/core/events"
	"sync"
	"testing"
	"time"
)

type memPresence struct {
	mu      sync.Mutex
	conns   map[int64]map[string]time.Duration
	updates int
}

func newMemPresence() *memPresence {
	return &memPresence{conns: make(map[int64]map[string]time.Duration)}
}

func (p *memPresence) UpdateOnlineStatus(_ context.Context, userID int64, connID string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[userID] == nil {
		p.conns[userID] = make(map[string]time.Duration)
	}
	p.conns[userID][connID] = ttl
	p.updates++
	return nil
}

func (p *memPresence) RemoveConnection(_ context.Context, userID int64, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns[userID], connID)
	return nil
}

func (p *memPresence) GetOnlineConnections(_ context.Context, userID int64) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id := range p.conns[userID] {
		out = append(out, id)
	}
	return out, nil
}

func (p *memPresence) updateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates
}

type stubVerifier map[string]int64

func (v stubVerifier) Verify(token string) (*domain.Identity, error) {
	id, ok := v[token]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return &domain.Identity{UserID: id}, nil
}

func newConnectionHarness(interval time.Duration) (*ConnectionService, *registry.Registry, *memPresence) {
	log := testLogger()
	reg := registry.NewRegistry(log)
	presence := newMemPresence()
	hb := NewHeartbeatMonitor(log, reg, presence, interval, time.Minute)
	svc := NewConnectionService(log, stubVerifier{"good": 5}, reg, presence, events.NewDispatcher(log), hb, time.Minute)
	return svc, reg, presence
}

func TestAuthenticate(t *testing.T) {
	svc, _, _ := newConnectionHarness(time.Hour)

	id, err := svc.Authenticate(context.Background(), "good")
	if err != nil || id.UserID != 5 {
		t.Fatalf("identity = %+v, err = %v", id, err)
	}
	_, err = svc.Authenticate(context.Background(), "bad")
	var de *domain.Error
	if !errors.As(err, &de) || de.Payload().Code != 401 {
		t.Fatalf("err = %v, want 401", err)
	}
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatal("cause lost")
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	svc, reg, presence := newConnectionHarness(time.Hour)
	ctx := context.Background()
	c := newTestClient("conn-1", 5)

	if err := svc.HandleConnect(ctx, c); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var hello domain.ConnectionPayload
	c.only(t, domain.TypeConnection, &hello)
	if !hello.Success || hello.ConnectID != "conn-1" || hello.UserID != 5 {
		t.Fatalf("connection = %+v", hello)
	}
	if !reg.IsOnline(5) {
		t.Fatal("not registered")
	}
	view, err := svc.Presence(ctx, 5)
	if err != nil || !view.Online || view.Connections != 1 {
		t.Fatalf("presence = %+v, err = %v", view, err)
	}

	svc.HandleDisconnect(ctx, c)
	svc.HandleDisconnect(ctx, c)
	if reg.IsOnline(5) || !c.isClosed() {
		t.Fatal("disconnect did not clean up")
	}
	if view, _ := svc.Presence(ctx, 5); view.Online || view.Connections != 0 {
		t.Fatalf("presence after disconnect = %+v", view)
	}
	if presence.updateCount() != 1 {
		t.Fatalf("presence updates = %d", presence.updateCount())
	}
}

func TestHandleMessageRoutesThroughDispatcher(t *testing.T) {
	svc, _, _ := newConnectionHarness(time.Hour)
	c := newTestClient("conn-1", 5)

	svc.HandleMessage(context.Background(), c, []byte(`{"type":"nope"}`))
	if e := onlyError(t, c); e.Code != 400 {
		t.Fatalf("error = %+v", e)
	}
}

func TestHeartbeatPingsAndRefreshesPresence(t *testing.T) {
	svc, reg, presence := newConnectionHarness(5 * time.Millisecond)
	c := newTestClient("conn-1", 5)
	reg.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.HandleHeartbeat(ctx, c)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(c.ofType(domain.TypePing)) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no pings")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop on cancel")
	}
	if presence.updateCount() < 2 {
		t.Fatalf("presence refreshed %d times", presence.updateCount())
	}
	if !reg.IsOnline(5) {
		t.Fatal("healthy connection was unregistered")
	}
}

func TestHeartbeatFailureClosesConnection(t *testing.T) {
	svc, reg, _ := newConnectionHarness(5 * time.Millisecond)
	c := newTestClient("conn-1", 5)
	c.failing = true
	reg.Register(c)

	done := make(chan struct{})
	go func() {
		svc.HandleHeartbeat(context.Background(), c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat kept running after a failed ping")
	}
	if reg.IsOnline(5) {
		t.Fatal("dead connection still registered")
	}
	if !c.isClosed() {
		t.Fatal("dead connection not closed")
	}
}

func TestPresenceOnlineFollowsRegistry(t *testing.T) {
	svc, _, presence := newConnectionHarness(time.Hour)
	ctx := context.Background()
	// A mirror entry left behind by another process or a crashed socket.
	if err := presence.UpdateOnlineStatus(ctx, 5, "stale", time.Minute); err != nil {
		t.Fatal(err)
	}

	view, err := svc.Presence(ctx, 5)
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	if view.Online || view.Connections != 1 {
		t.Fatalf("presence = %+v, want offline with one mirrored connection", view)
	}
}

func TestOfflineHookRunsOnLastDisconnect(t *testing.T) {
	svc, reg, _ := newConnectionHarness(time.Hour)
	ctx := context.Background()
	var offline []int64
	svc.OnUserOffline(func(_ context.Context, userID int64) { offline = append(offline, userID) })
	a := newTestClient("a", 5)
	b := newTestClient("b", 5)
	reg.Register(a)
	reg.Register(b)

	svc.HandleDisconnect(ctx, a)
	if len(offline) != 0 {
		t.Fatal("hook ran while a connection remained")
	}
	svc.HandleDisconnect(ctx, b)
	if len(offline) != 1 || offline[0] != 5 {
		t.Fatalf("offline calls = %v", offline)
	}
}
