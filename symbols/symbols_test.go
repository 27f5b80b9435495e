package symbols

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/core/task"
)

type fakeEmitter struct {
	mu     sync.Mutex
	result symbol.Result
	done   chan struct{}
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{done: make(chan struct{})}
}

func (f *fakeEmitter) Finalize(r symbol.Result) {
	f.mu.Lock()
	f.result = r
	f.mu.Unlock()
	close(f.done)
}

func (f *fakeEmitter) AddPassthrough(priority int, action, message, module string) {}

func (f *fakeEmitter) wait(t *testing.T) symbol.Result {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("emitter never finalized")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func newTestTask(t *testing.T, env task.Envelope, msg *task.Message) *task.Task {
	if msg == nil {
		msg = &task.Message{Headers: map[string][]string{}}
	}
	tsk, cancel := task.New(context.Background(), time.Now().Add(time.Minute), msg, env, task.Settings{})
	t.Cleanup(cancel)
	return tsk
}

type fakeResolver struct {
	hosts []string
	err   error
}

func (f *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f.hosts, f.err
}
func (f *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) { return nil, nil }
func (f *fakeResolver) LookupMX(ctx context.Context, name string) ([]string, error)  { return nil, nil }

func TestDNSBLFiresOnListedAddress(t *testing.T) {
	d := &DNSBL{Name: "RBL_TEST", Zone: "rbl.example.com", Resolver: &fakeResolver{hosts: []string{"127.0.0.2"}}}
	tsk := newTestTask(t, task.Envelope{SenderIP: "1.2.3.4"}, nil)
	emit := newFakeEmitter()

	outcome, _ := d.Run(context.Background(), tsk, emit)
	require.Equal(t, symbol.OutcomePending, outcome)

	result := emit.wait(t)
	assert.True(t, result.Fired)
	assert.Equal(t, []string{"127.0.0.2"}, result.Options)
}

func TestDNSBLDoesNotFireOnNXDOMAIN(t *testing.T) {
	d := &DNSBL{Name: "RBL_TEST", Zone: "rbl.example.com", Resolver: &fakeResolver{err: errors.New("nxdomain")}}
	tsk := newTestTask(t, task.Envelope{SenderIP: "1.2.3.4"}, nil)
	emit := newFakeEmitter()

	d.Run(context.Background(), tsk, emit)
	result := emit.wait(t)
	assert.False(t, result.Fired)
}

func TestDNSBLSkipsWhenNoSenderIP(t *testing.T) {
	d := &DNSBL{Name: "RBL_TEST", Zone: "rbl.example.com", Resolver: &fakeResolver{}}
	tsk := newTestTask(t, task.Envelope{}, nil)
	emit := newFakeEmitter()

	outcome, result := d.Run(context.Background(), tsk, emit)
	assert.Equal(t, symbol.OutcomeSync, outcome)
	assert.False(t, result.Fired)
}

func TestReverseIPQuery(t *testing.T) {
	q, ok := reverseIPQuery("1.2.3.4", "zen.spamhaus.org")
	require.True(t, ok)
	assert.Equal(t, "4.3.2.1.zen.spamhaus.org", q)

	_, ok = reverseIPQuery("not-an-ip", "zen.spamhaus.org")
	assert.False(t, ok)
}

func TestHeaderRegexFiresOnMatch(t *testing.T) {
	h := &HeaderRegex{Name: "SHOUT", Header: "subject", Pattern: regexp.MustCompile(`^[A-Z ]{5,}$`)}
	tsk := newTestTask(t, task.Envelope{}, &task.Message{Headers: map[string][]string{"subject": {"BUY NOW"}}})

	_, result := h.Run(context.Background(), tsk, newFakeEmitter())
	assert.True(t, result.Fired)
}

func TestHeaderRegexDoesNotFireOnMismatch(t *testing.T) {
	h := &HeaderRegex{Name: "SHOUT", Header: "subject", Pattern: regexp.MustCompile(`^[A-Z ]{5,}$`)}
	tsk := newTestTask(t, task.Envelope{}, &task.Message{Headers: map[string][]string{"subject": {"hello there"}}})

	_, result := h.Run(context.Background(), tsk, newFakeEmitter())
	assert.False(t, result.Fired)
}

func TestMissingHeaderFiresWhenAbsent(t *testing.T) {
	m := &MissingHeader{Name: "NO_SUBJECT", Header: "subject"}
	tsk := newTestTask(t, task.Envelope{}, &task.Message{Headers: map[string][]string{}})

	_, result := m.Run(context.Background(), tsk, newFakeEmitter())
	assert.True(t, result.Fired)
}

func TestMissingHeaderDoesNotFireWhenPresent(t *testing.T) {
	m := &MissingHeader{Name: "NO_SUBJECT", Header: "subject"}
	tsk := newTestTask(t, task.Envelope{}, &task.Message{Headers: map[string][]string{"subject": {"hi"}}})

	_, result := m.Run(context.Background(), tsk, newFakeEmitter())
	assert.False(t, result.Fired)
}

type fakeKV struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeKV() *fakeKV { return &fakeKV{counts: make(map[string]int64)} }

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool, error)           { return "", false, nil }
func (f *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (f *fakeKV) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

type fakeMap struct {
	entries map[string]string
}

func (f *fakeMap) Contains(key string) bool {
	_, ok := f.entries[key]
	return ok
}

func (f *fakeMap) Lookup(key string) (string, bool) {
	v, ok := f.entries[key]
	return v, ok
}

func TestSenderAllowlistFiresForListedDomain(t *testing.T) {
	m := &fakeMap{entries: map[string]string{"trusted.example": ""}}
	s := &SenderAllowlist{Name: "SENDER_ALLOWLISTED", Map: m}
	tsk := newTestTask(t, task.Envelope{From: "alice@trusted.example"}, nil)

	outcome, result := s.Run(context.Background(), tsk, newFakeEmitter())
	assert.Equal(t, symbol.OutcomeSync, outcome)
	assert.True(t, result.Fired)
}

func TestSenderAllowlistDoesNotFireForUnlistedDomain(t *testing.T) {
	m := &fakeMap{entries: map[string]string{"trusted.example": ""}}
	s := &SenderAllowlist{Name: "SENDER_ALLOWLISTED", Map: m}
	tsk := newTestTask(t, task.Envelope{From: "mallory@evil.example"}, nil)

	_, result := s.Run(context.Background(), tsk, newFakeEmitter())
	assert.False(t, result.Fired)
}

func TestSenderAllowlistDoesNotFireWithoutFromAddress(t *testing.T) {
	m := &fakeMap{entries: map[string]string{"trusted.example": ""}}
	s := &SenderAllowlist{Name: "SENDER_ALLOWLISTED", Map: m}
	tsk := newTestTask(t, task.Envelope{}, nil)

	_, result := s.Run(context.Background(), tsk, newFakeEmitter())
	assert.False(t, result.Fired)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", domainOf("user@example.com"))
	assert.Equal(t, "", domainOf("not-an-address"))
}

func TestRateStatFiresOverLimit(t *testing.T) {
	kv := newFakeKV()
	r := &RateStat{Name: "RATE_TEST", Store: kv, Limit: 2, Window: time.Minute}
	tsk := newTestTask(t, task.Envelope{SenderIP: "9.9.9.9"}, nil)

	for i := 0; i < 2; i++ {
		emit := newFakeEmitter()
		r.Run(context.Background(), tsk, emit)
		result := emit.wait(t)
		assert.False(t, result.Fired)
	}

	emit := newFakeEmitter()
	r.Run(context.Background(), tsk, emit)
	result := emit.wait(t)
	assert.True(t, result.Fired)
}
