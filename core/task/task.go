// Package task defines the per-message scan context that flows through the
// scheduler, accumulator, and composite evaluator (spec.md §3 "Task").
package task

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mailscore/core/pkg/idgen"
)

// Envelope carries the SMTP-transaction-adjacent metadata a symbol callback
// needs but which the core itself never interprets: sender IP, HELO, MAIL
// FROM, RCPT TO, and an authenticated username if the submission was
// authenticated (spec.md §3 Task).
type Envelope struct {
	SenderIP string
	HELO     string
	From     string
	RCPT     []string
	AuthUser string
}

// Settings is the user-supplied, per-task override set consulted by
// allowed_ids/forbidden_ids filtering (spec.md §4.1.3 step 1) and by
// explicit_disable handling (SPEC_FULL.md §7).
type Settings struct {
	// AllowedIDs, if non-empty, restricts execution to only these symbol
	// names; dependencies of an allowed symbol are not added implicitly.
	AllowedIDs []string
	// ForbiddenIDs excludes these symbol names regardless of AllowedIDs.
	ForbiddenIDs []string
	// ExplicitlyEnabled lists symbol names flagged explicit_disable that
	// this task nonetheless wants to run.
	ExplicitlyEnabled []string
}

func (s Settings) allows(set []string, name string) bool {
	for _, n := range set {
		if n == name {
			return true
		}
	}
	return false
}

// Allows reports whether name passes the AllowedIDs/ForbiddenIDs filters.
func (s Settings) Allows(name string) bool {
	if s.allows(s.ForbiddenIDs, name) {
		return false
	}
	if len(s.AllowedIDs) > 0 && !s.allows(s.AllowedIDs, name) {
		return false
	}
	return true
}

// ExplicitlyAllows reports whether a symbol flagged explicit_disable has
// been named by this task's settings (SPEC_FULL.md §7).
func (s Settings) ExplicitlyAllows(name string) bool {
	return s.allows(s.ExplicitlyEnabled, name)
}

// Message is the opaque parsed-message handle a Task carries. The core
// never parses MIME itself (spec.md §1 Non-goals); callers (server/ingest,
// or a symbol's own collaborator) populate this from whatever upstream
// parser they use.
type Message struct {
	// Headers is a lower-cased header-name -> values map, the minimum shape
	// symbol callbacks need to inspect a message without the core
	// depending on a specific MIME library.
	Headers map[string][]string
	// Body is the raw (post-header) message body.
	Body []byte
	// Size is the full raw message size in bytes, for symbols that check
	// size-based limits without needing the body in memory.
	Size int64
}

// Header returns the first value of the named header. name is looked up
// as given, so callers pass the lower-cased form Headers is keyed by.
func (m *Message) Header(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	vs, ok := m.Headers[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// ScoreSource narrows core/accumulator's concrete type to what a Task needs
// to hand to the composite evaluator and to symbol callbacks that inspect
// other symbols' results mid-scan.
type ScoreSource interface {
	Score(name string) (value float64, present bool)
	GroupScore(group string) float64
}

// Task is the per-message scan context (spec.md §3 Task): created on
// submission, destroyed when the scan result is serialized back to the
// caller, never shared across worker goroutines while live.
type Task struct {
	// ID is a sortable, time-ordered identifier (pkg/idgen), used for log
	// correlation and deadline-shard bucketing.
	ID string
	// CorrelationID is a random (non-sortable) identifier suitable for
	// exposing to external systems that should not be able to infer
	// arrival ordering from it.
	CorrelationID uuid.UUID

	Message  *Message
	Envelope Envelope
	Settings Settings

	// Deadline is the wall-clock point after which the scheduler forcibly
	// finalizes all outstanding continuations as timeouts.
	Deadline time.Time

	// Accumulator is the scan-result accumulator this task writes into. It
	// is typed as ScoreSource here to avoid core/task depending on
	// core/accumulator's concrete type; the scheduler holds the concrete
	// accumulator and passes it through both as this interface and its own
	// insert-capable type.
	Accumulator ScoreSource

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Task with a fresh ID, bound to ctx with deadline applied.
// The returned cancel function must be called once the task completes to
// release the context's resources; the callers (server/ingest and
// mailscore-ctl replay) defer it around the scan.
func New(ctx context.Context, deadline time.Time, msg *Message, env Envelope, settings Settings) (*Task, context.CancelFunc) {
	taskCtx, cancel := context.WithDeadline(ctx, deadline)
	return &Task{
		ID:            idgen.New(),
		CorrelationID: uuid.New(),
		Message:       msg,
		Envelope:      env,
		Settings:      settings,
		Deadline:      deadline,
		ctx:           taskCtx,
		cancel:        cancel,
	}, cancel
}

// Context returns the task's deadline-bound context, used by async
// continuations (DNS/HTTP/Redis) to observe cancellation.
func (t *Task) Context() context.Context {
	return t.ctx
}
