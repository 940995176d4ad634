package service

import (
	"context"
	"strings"
	"sync"

	"github.com/layer-3/xcafe/core"
)

const (
	accountA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	accountB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// recorder is a subscriber that keeps every update it sees.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) OnUpdate(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recorder) events() []core.Event {
	var out []core.Event
	for _, u := range r.all() {
		if u.Event != nil {
			out = append(out, u.Event)
		}
	}
	return out
}

func (r *recorder) authStates(authenticated bool) int {
	n := 0
	for _, ev := range r.events() {
		if a, ok := ev.(core.AuthStateChanged); ok && a.IsAuthenticated == authenticated {
			n++
		}
	}
	return n
}

// eventLog is a Notifier that keeps the events it is given.
type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) Notify(ev core.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []core.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Event(nil), l.events...)
}

// fakeUsers is a user directory whose lookups can be held per account.
type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]*core.User
	holds   map[string]chan struct{}
	entered chan string
	updates int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:   make(map[string]*core.User),
		holds:   make(map[string]chan struct{}),
		entered: make(chan string, 32),
	}
}

func (f *fakeUsers) hold(account string) {
	f.mu.Lock()
	f.holds[strings.ToLower(account)] = make(chan struct{})
	f.mu.Unlock()
}

func (f *fakeUsers) release(account string) {
	f.mu.Lock()
	ch := f.holds[strings.ToLower(account)]
	delete(f.holds, strings.ToLower(account))
	f.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (f *fakeUsers) GetUser(ctx context.Context, address string) (*core.User, error) {
	key := strings.ToLower(address)
	select {
	case f.entered <- key:
	default:
	}

	f.mu.Lock()
	ch := f.holds[key]
	f.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[key]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, user *core.User) (*core.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := *user
	u.UserType = core.UserTypeNormal
	f.users[strings.ToLower(u.Address)] = &u
	cp := u
	return &cp, nil
}

func (f *fakeUsers) UpdateUser(_ context.Context, address string, update core.UserUpdate) (*core.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	u, ok := f.users[strings.ToLower(address)]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	update.Apply(u)
	cp := *u
	return &cp, nil
}

// fakeAuth answers every verify with the same result.
type fakeAuth struct {
	mu       sync.Mutex
	result   core.VerifyResult
	requests []core.VerifyRequest
}

func (f *fakeAuth) Verify(_ context.Context, req core.VerifyRequest) (*core.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	res := f.result
	return &res, nil
}

func (f *fakeAuth) Setup(context.Context, string, core.SetupRequest) (*core.SetupResult, error) {
	return &core.SetupResult{Success: true}, nil
}

func (f *fakeAuth) Status(context.Context) (*core.SystemStatus, error) {
	return &core.SystemStatus{Success: true, Status: "online"}, nil
}

func (f *fakeAuth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
