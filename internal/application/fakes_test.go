package application_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// --- Mock implementations ---

type fetchKey struct {
	repo      string
	eventType model.EventType
}

// fakeSource serves queued fetch results per (repository, stream). When the
// queue is empty it answers 304.
type fakeSource struct {
	mu        sync.Mutex
	queue     map[fetchKey][]fakeFetch
	calls     []fetchKey
	forgotten []string
	block     chan struct{} // when set, FetchEvents waits for it to close
	started   chan struct{} // when set, receives once per FetchEvents call
}

type fakeFetch struct {
	result *model.FetchResult
	err    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{queue: make(map[fetchKey][]fakeFetch)}
}

func (f *fakeSource) push(repo string, eventType model.EventType, events ...model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fetchKey{repo, eventType}
	f.queue[key] = append(f.queue[key], fakeFetch{result: &model.FetchResult{Events: events, RateRemaining: -1}})
}

func (f *fakeSource) pushErr(repo string, eventType model.EventType, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fetchKey{repo, eventType}
	f.queue[key] = append(f.queue[key], fakeFetch{err: err})
}

func (f *fakeSource) FetchEvents(ctx context.Context, repo string, eventType model.EventType) (*model.FetchResult, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := fetchKey{repo, eventType}
	f.calls = append(f.calls, key)

	q := f.queue[key]
	if len(q) == 0 {
		return &model.FetchResult{NotModified: true, RateRemaining: -1}, nil
	}
	next := q[0]
	f.queue[key] = q[1:]
	return next.result, next.err
}

func (f *fakeSource) Forget(repo string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, repo)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memRepoStore is an in-memory RepoStore.
type memRepoStore struct {
	mu       sync.Mutex
	repos    map[string]model.Repository
	channels map[string]map[string]struct{}
	marks    *memWatermarkStore // when set, Remove also drops its cursors
}

func newMemRepoStore() *memRepoStore {
	return &memRepoStore{
		repos:    make(map[string]model.Repository),
		channels: make(map[string]map[string]struct{}),
	}
}

func (m *memRepoStore) Add(_ context.Context, repo model.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[repo.FullName]; ok {
		return driven.ErrRepoAlreadyExists
	}
	m.repos[repo.FullName] = repo
	return nil
}

func (m *memRepoStore) Remove(_ context.Context, fullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[fullName]; !ok {
		return driven.ErrRepoNotFound
	}
	delete(m.repos, fullName)
	delete(m.channels, fullName)
	if m.marks != nil {
		m.marks.deleteRepo(fullName)
	}
	return nil
}

func (m *memRepoStore) GetByFullName(_ context.Context, fullName string) (*model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[fullName]
	if !ok {
		return nil, nil
	}
	return &repo, nil
}

func (m *memRepoStore) ListAll(_ context.Context) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (m *memRepoStore) ListPollable(ctx context.Context) ([]model.Repository, error) {
	all, _ := m.ListAll(ctx)
	var out []model.Repository
	for _, r := range all {
		if r.Pollable() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepoStore) update(fullName string, fn func(*model.Repository)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[fullName]
	if !ok {
		return driven.ErrRepoNotFound
	}
	fn(&repo)
	m.repos[fullName] = repo
	return nil
}

func (m *memRepoStore) SetEnabled(_ context.Context, fullName string, enabled bool) error {
	return m.update(fullName, func(r *model.Repository) { r.Enabled = enabled })
}

func (m *memRepoStore) SetPush(_ context.Context, fullName string, push bool) error {
	return m.update(fullName, func(r *model.Repository) { r.PushEnabled = push })
}

func (m *memRepoStore) Assign(_ context.Context, fullName, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[fullName]; !ok {
		return driven.ErrRepoNotFound
	}
	if m.channels[fullName] == nil {
		m.channels[fullName] = make(map[string]struct{})
	}
	m.channels[fullName][channel] = struct{}{}
	return nil
}

func (m *memRepoStore) Unassign(_ context.Context, fullName, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[fullName]; !ok {
		return driven.ErrRepoNotFound
	}
	delete(m.channels[fullName], channel)
	return nil
}

func (m *memRepoStore) ChannelsFor(_ context.Context, fullName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for ch := range m.channels[fullName] {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memRepoStore) ListAssignments(ctx context.Context) ([]model.ChannelAssignment, error) {
	all, _ := m.ListAll(ctx)
	var out []model.ChannelAssignment
	for _, r := range all {
		chans, _ := m.ChannelsFor(ctx, r.FullName)
		for _, ch := range chans {
			out = append(out, model.ChannelAssignment{RepoFullName: r.FullName, Channel: ch})
		}
	}
	return out, nil
}

type sentMessage struct {
	Channel string
	Text    string
}

// fakeMessenger records every message; channels listed in failFor reject delivery.
type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]error
}

func (f *fakeMessenger) SendMessage(_ context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[channel]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{Channel: channel, Text: text})
	return nil
}

func (f *fakeMessenger) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// memWatermarkStore is an in-memory WatermarkStore.
type memWatermarkStore struct {
	mu    sync.Mutex
	marks map[driven.WatermarkKey]time.Time
	saves int

	entered chan struct{} // when set, receives once per SaveWatermarks call
	gate    chan struct{} // when set, SaveWatermarks waits for it to close
}

func (m *memWatermarkStore) SaveWatermarks(_ context.Context, marks map[driven.WatermarkKey]time.Time) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marks == nil {
		m.marks = make(map[driven.WatermarkKey]time.Time)
	}
	for k, v := range marks {
		m.marks[k] = v
	}
	m.saves++
	return nil
}

func (m *memWatermarkStore) LoadWatermarks(_ context.Context) (map[driven.WatermarkKey]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[driven.WatermarkKey]time.Time, len(m.marks))
	for k, v := range m.marks {
		out[k] = v
	}
	return out, nil
}

// deleteRepo drops the cursors of one repository, as RepoStore.Remove does
// in the SQL adapters.
func (m *memWatermarkStore) deleteRepo(fullName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.marks {
		if k.RepoFullName == fullName {
			delete(m.marks, k)
		}
	}
}

func (m *memWatermarkStore) has(fullName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.marks {
		if k.RepoFullName == fullName {
			return true
		}
	}
	return false
}

// fixedClock returns a controllable time source.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var (
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	admin = application.Actor{Name: "root", IsAdmin: true}
	guest = application.Actor{Name: "guest"}
)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func ev(eventType model.EventType, minutes int, title string) model.Event {
	return model.Event{
		Type:      eventType,
		Author:    "alice",
		Title:     title,
		URL:       "https://github.com/" + title,
		Timestamp: at(minutes),
	}
}
