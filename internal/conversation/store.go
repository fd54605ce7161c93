package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/auth"
	"github.com/kalambet/socq/internal/storage"
)

// DefaultTopK is the number of contexts requested when none is configured.
const DefaultTopK = 3

var (
	// ErrBusy is returned when a submission arrives while another is in flight.
	ErrBusy = errors.New("a query is already in flight")
	// ErrEmptyInput is returned when the pending input is blank.
	ErrEmptyInput = errors.New("input is empty")
)

// SendState gates submissions: only one query may be in flight.
type SendState int

const (
	StateIdle SendState = iota
	StateSending
)

func (s SendState) String() string {
	if s == StateSending {
		return "sending"
	}
	return "idle"
}

func (s SendState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SendState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "sending":
		*s = StateSending
	default:
		return fmt.Errorf("unknown send state %q", b)
	}
	return nil
}

// QueryLog receives one metrics record per finished submission.
type QueryLog interface {
	SaveQuery(q storage.QueryRecord) error
}

// Deps wires a Store to its collaborators.
type Deps struct {
	Tokens    auth.TokenProvider
	Answerer  answer.Answerer
	Transport string // name recorded in the query log
	TopK      int
	Log       QueryLog // optional
	Now       func() time.Time
	Logger    *slog.Logger
}

// Turn is the result of one submission. Err is the pipeline failure, if any;
// it has already been rendered into Reply.
type Turn struct {
	Question   Message
	Reply      Message
	References []Reference
	Latency    time.Duration
	Err        error
}

// EventKind distinguishes change notifications.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventState   EventKind = "state"
)

// Event is delivered to subscribers after the store changes.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message *Message  `json:"message,omitempty"`
	State   SendState `json:"state"`
	Count   int       `json:"count"`
}

// Snapshot is a consistent copy of the store's observable state.
type Snapshot struct {
	Messages   []Message   `json:"messages"`
	References []Reference `json:"references"`
	State      SendState   `json:"state"`
	Input      string      `json:"input"`
	LatencyMs  *int64      `json:"latency_ms,omitempty"`
}

type subscriber struct {
	id int
	fn func(Event)
}

// Store owns the message log, the reference list and the send state.
type Store struct {
	tokens    auth.TokenProvider
	answerer  answer.Answerer
	transport string
	queryLog  QueryLog
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	messages   []Message
	references []Reference
	input      string
	state      SendState
	topK       int
	latency    time.Duration
	hasLatency bool
	subs       []subscriber
	nextSubID  int

	// Events wait in outbox in log order; one goroutine at a time drains it.
	outbox     []Event
	delivering bool
}

// New creates a Store seeded with the welcome message.
func New(deps Deps) *Store {
	s := &Store{
		tokens:     deps.Tokens,
		answerer:   deps.Answerer,
		transport:  deps.Transport,
		queryLog:   deps.Log,
		now:        deps.Now,
		logger:     deps.Logger,
		references: []Reference{},
		topK:       deps.TopK,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.topK <= 0 {
		s.topK = DefaultTopK
	}
	if s.transport == "" {
		s.transport = answer.TransportSync
	}
	s.messages = []Message{s.newMessage(RoleAssistant, WelcomeText)}
	return s
}

func (s *Store) newMessage(role Role, text string) Message {
	return Message{Role: role, Text: text, Time: s.now().Format(TimeFormat)}
}

// SetInput replaces the pending input text.
func (s *Store) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// Input returns the pending input text.
func (s *Store) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// CanSubmit reports whether the store is idle and the trimmed input is
// non-empty.
func (s *Store) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateIdle && strings.TrimSpace(s.input) != ""
}

// State returns the current send state.
func (s *Store) State() SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the message log.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// References returns a copy of the references of the last finished query.
func (s *Store) References() []Reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reference{}, s.references...)
}

// Latency returns the round trip of the last successful query.
func (s *Store) Latency() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency, s.hasLatency
}

// TopK returns the number of contexts requested per query.
func (s *Store) TopK() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topK
}

// SetTopK changes the number of contexts requested by later submissions.
// Non-positive values are ignored.
func (s *Store) SetTopK(k int) {
	if k <= 0 {
		return
	}
	s.mu.Lock()
	s.topK = k
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the observable state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Messages:   append([]Message(nil), s.messages...),
		References: append([]Reference{}, s.references...),
		State:      s.state,
		Input:      s.input,
	}
	if s.hasLatency {
		ms := s.latency.Milliseconds()
		snap.LatencyMs = &ms
	}
	return snap
}

// Subscribe registers fn for change events and returns a function that
// removes it. Events arrive one at a time in log order. fn runs outside the
// store's lock, usually on the goroutine that made the change; a change made
// while another goroutine is delivering is delivered by that goroutine.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// queueLocked appends events to the outbox and reports whether the caller
// must drain it with deliver once s.mu is released.
func (s *Store) queueLocked(events ...Event) bool {
	s.outbox = append(s.outbox, events...)
	if s.delivering {
		return false
	}
	s.delivering = true
	return true
}

func (s *Store) deliver() {
	for {
		s.mu.Lock()
		if len(s.outbox) == 0 {
			s.delivering = false
			s.mu.Unlock()
			return
		}
		ev := s.outbox[0]
		s.outbox = s.outbox[1:]
		subs := append([]subscriber(nil), s.subs...)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(ev)
		}
	}
}

// Submit sends the pending input. It returns ErrBusy or ErrEmptyInput when
// the submission is rejected; in that case nothing changes. Otherwise the
// question is appended before any network call, and the reply (answer or
// failure description) is appended when the pipeline finishes. The store is
// idle again when Submit returns.
func (s *Store) Submit(ctx context.Context) (Turn, error) {
	s.mu.Lock()
	p, err := s.beginLocked()
	if err != nil {
		return Turn{}, err
	}
	return s.complete(ctx, p), nil
}

// SubmitText sets the input to text and submits it in one step.
func (s *Store) SubmitText(ctx context.Context, text string) (Turn, error) {
	ch, err := s.StartText(ctx, text)
	if err != nil {
		return Turn{}, err
	}
	return <-ch, nil
}

// StartText is SubmitText without the wait: rejections are reported
// synchronously and the question is already in the log when it returns.
// The channel receives the finished Turn.
func (s *Store) StartText(ctx context.Context, text string) (<-chan Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.input = text
	p, err := s.beginLocked()
	if err != nil {
		return nil, err
	}

	ch := make(chan Turn, 1)
	go func() {
		ch <- s.complete(ctx, p)
	}()
	return ch, nil
}

type pending struct {
	question Message
	topK     int
}

// beginLocked is entered with s.mu held and releases it. On success the
// question is in the log and the store is sending.
func (s *Store) beginLocked() (pending, error) {
	if s.state != StateIdle {
		s.mu.Unlock()
		return pending{}, ErrBusy
	}
	text := strings.TrimSpace(s.input)
	if text == "" {
		s.mu.Unlock()
		return pending{}, ErrEmptyInput
	}

	s.input = ""
	p := pending{question: s.newMessage(RoleUser, text), topK: s.topK}
	s.messages = append(s.messages, p.question)
	s.state = StateSending
	count := len(s.messages)
	question := p.question
	drain := s.queueLocked(
		Event{Kind: EventMessage, Message: &question, State: StateSending, Count: count},
		Event{Kind: EventState, State: StateSending, Count: count},
	)
	s.mu.Unlock()

	if drain {
		s.deliver()
	}
	return p, nil
}

func (s *Store) complete(ctx context.Context, p pending) Turn {
	start := s.now()
	resp, err := s.run(ctx, p.question.Text, p.topK)
	elapsed := s.now().Sub(start)

	turn := Turn{Question: p.question, Err: err}

	s.mu.Lock()
	if err != nil {
		turn.Reply = s.newMessage(RoleAssistant, failureText(err))
		s.references = []Reference{}
	} else {
		turn.Reply = s.newMessage(RoleAssistant, resp.FinalAnswer)
		s.references = MapReferences(resp.ContextsUsed)
		if resp.Latency > 0 {
			elapsed = resp.Latency
		}
		s.latency = elapsed
		s.hasLatency = true
	}
	turn.References = append([]Reference{}, s.references...)
	turn.Latency = elapsed
	s.messages = append(s.messages, turn.Reply)
	s.state = StateIdle
	count := len(s.messages)
	reply := turn.Reply
	drain := s.queueLocked(
		Event{Kind: EventMessage, Message: &reply, State: StateIdle, Count: count},
		Event{Kind: EventState, State: StateIdle, Count: count},
	)
	s.mu.Unlock()

	if drain {
		s.deliver()
	}
	s.record(p.topK, resp, turn)
	return turn
}

// run performs token acquisition and the network exchange. A panic in a
// collaborator is turned into an error so the store always returns to idle.
func (s *Store) run(ctx context.Context, text string, topK int) (resp answer.QueryResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("query pipeline panicked", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if s.tokens == nil {
		return answer.QueryResponse{}, auth.ErrNoSession
	}
	if s.answerer == nil {
		return answer.QueryResponse{}, errors.New("no answering transport configured")
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return answer.QueryResponse{}, fmt.Errorf("acquiring token: %w", err)
	}

	return s.answerer.Answer(ctx, answer.QueryRequest{Text: text, TopK: topK}, token)
}

func (s *Store) record(topK int, resp answer.QueryResponse, turn Turn) {
	rec := storage.QueryRecord{
		ID:        uuid.New().String(),
		CreatedAt: s.now(),
		Transport: s.transport,
		TopK:      topK,
		LatencyMs: turn.Latency.Milliseconds(),
		Outcome:   storage.OutcomeSuccess,
		RequestID: resp.RequestID,
		Contexts:  len(turn.References),
	}
	if turn.Err != nil {
		rec.Outcome = storage.OutcomeError
		rec.ErrorKind = Kind(turn.Err)
		s.logger.Warn("query failed", "kind", rec.ErrorKind, "error", turn.Err)
	} else {
		s.logger.Debug("query completed", "latency_ms", rec.LatencyMs, "contexts", rec.Contexts)
	}

	if s.queryLog == nil {
		return
	}
	if err := s.queryLog.SaveQuery(rec); err != nil {
		s.logger.Warn("recording query metrics failed", "error", err)
	}
}
