// Debate scheduling: countdown, round-robin turns, synthesis and persistence.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dialectica/dialectica/pkg/config"
	"github.com/dialectica/dialectica/pkg/db"
	"github.com/dialectica/dialectica/pkg/event"
	"github.com/dialectica/dialectica/pkg/models"
	"github.com/dialectica/dialectica/pkg/utils"
)

// Debate lifecycle states.
const (
	StateIdle         = "idle"
	StateCountdown    = "countdown"
	StateDebating     = "debating"
	StateSynthesizing = "synthesizing"
	StateComplete     = "complete"
	StateErrored      = "errored"
)

var (
	// ErrDebateNotFound is returned for unknown debate ids.
	ErrDebateNotFound = errors.New("debate not found")
	// ErrDebateNotIdle is returned when Start is called twice.
	ErrDebateNotIdle = errors.New("debate already started")
	// ErrAlreadyConcluding is returned when Conclude is called more than once.
	ErrAlreadyConcluding = errors.New("debate already concluding")
)

// debate is the per-debate runtime state owned by the scheduler goroutine.
type debate struct {
	id       string
	topic    string
	title    string
	personas models.Personas

	transcript *Transcript

	started    atomic.Bool
	concluding atomic.Bool // one-shot guard for the stop-and-synthesize path

	turnCancel atomic.Value // context.CancelFunc for the current turn

	mu        sync.Mutex
	cancel    context.CancelFunc // cancels the whole run
	state     string
	sessionID string
	runErr    error
}

func (d *debate) setState(s string) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *debate) setCancel(c context.CancelFunc) {
	d.mu.Lock()
	d.cancel = c
	d.mu.Unlock()
}

func (d *debate) cancelRun() {
	d.mu.Lock()
	c := d.cancel
	d.mu.Unlock()
	if c != nil {
		c()
	}
}

// DebateSnapshot is the externally visible state of a debate.
type DebateSnapshot struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Title     string          `json:"title"`
	State     string          `json:"state"`
	Personas  models.Personas `json:"personas"`
	ChatLog   models.ChatLog  `json:"chatLog"`
	SessionID string          `json:"sessionId,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// PersonaGenerator produces debate participants and titles. Satisfied by
// PersonaService.
type PersonaGenerator interface {
	GeneratePersona(ctx context.Context, input models.PersonaInput, topic string) (*models.Persona, error)
	GenerateTitle(ctx context.Context, topic string) (string, error)
}

// Synthesizer distills a transcript into a conclusion. Satisfied by
// SynthesisService.
type Synthesizer interface {
	Synthesize(ctx context.Context, topic string, personas models.Personas, log models.ChatLog) (*models.Conclusion, error)
}

// DebateService creates debates and runs them to completion. Each running
// debate is a single scheduler goroutine registered in debates; cancellation
// flows through its context.
type DebateService struct {
	cfg       *config.AppConfig
	emitter   *event.Emitter
	store     db.SessionStore
	turns     TurnSource
	personas  PersonaGenerator
	synthesis Synthesizer
	logger    *slog.Logger

	debates sync.Map // id -> *debate
}

// NewDebateService creates a new debate service.
func NewDebateService(cfg *config.AppConfig, emitter *event.Emitter, store db.SessionStore,
	turns TurnSource, personas PersonaGenerator, synthesis Synthesizer) *DebateService {
	return &DebateService{
		cfg:       cfg,
		emitter:   emitter,
		store:     store,
		turns:     turns,
		personas:  personas,
		synthesis: synthesis,
		logger:    utils.GetLogger(),
	}
}

// Create generates personas and a title for the topic and registers a new
// debate in the idle state.
func (s *DebateService) Create(ctx context.Context, topic string, inputs []models.PersonaInput) (*DebateSnapshot, error) {
	if n := len(inputs); n < models.MinPersonas || n > models.MaxPersonas {
		return nil, fmt.Errorf("debate needs %d-%d participants, got %d", models.MinPersonas, models.MaxPersonas, n)
	}

	personas := make(models.Personas, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		p, err := s.personas.GeneratePersona(ctx, input, topic)
		if err != nil {
			return nil, err
		}
		if seen[p.Name] {
			p.Name = fmt.Sprintf("%s (%d)", p.Name, len(personas)+1)
		}
		seen[p.Name] = true
		personas = append(personas, *p)
	}

	title, err := s.personas.GenerateTitle(ctx, topic)
	if err != nil {
		s.logger.Warn("Title generation failed, falling back to topic", "error", err)
		title = topic
	}

	d := &debate{
		id:         uuid.NewString(),
		topic:      topic,
		title:      title,
		personas:   personas,
		transcript: NewTranscript(),
		state:      StateIdle,
	}
	s.debates.Store(d.id, d)
	s.logger.Info("Debate created", "debate_id", d.id, "topic", topic, "personas", len(personas))
	return s.snapshot(d), nil
}

// Start launches the scheduler goroutine for an idle debate.
func (s *DebateService) Start(id string) error {
	d, err := s.get(id)
	if err != nil {
		return err
	}
	if !d.started.CompareAndSwap(false, true) {
		return ErrDebateNotIdle
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.setCancel(cancel)
	go s.run(ctx, d)
	return nil
}

// Conclude stops scheduling new turns and moves the debate to synthesis. The
// in-flight turn is cancelled. On an errored debate, whose scheduler goroutine
// has already exited, it retries synthesis and persistence on the retained
// transcript. Calling it while a conclude is in flight returns
// ErrAlreadyConcluding.
func (s *DebateService) Conclude(id string) error {
	d, err := s.get(id)
	if err != nil {
		return err
	}
	if !d.started.Load() {
		return fmt.Errorf("debate %s has not started", id)
	}
	if !d.concluding.CompareAndSwap(false, true) {
		return ErrAlreadyConcluding
	}

	d.mu.Lock()
	errored := d.state == StateErrored
	if errored {
		d.runErr = nil
	}
	d.mu.Unlock()

	if errored {
		ctx, cancel := context.WithCancel(context.Background())
		d.setCancel(cancel)
		go func() {
			defer cancel()
			s.concludeAndPersist(ctx, d)
		}()
		s.logger.Info("Debate conclude retrying after error", "debate_id", id)
		return nil
	}

	if cancel, ok := d.turnCancel.Load().(context.CancelFunc); ok && cancel != nil {
		cancel()
	}
	s.logger.Info("Debate conclude requested", "debate_id", id)
	return nil
}

// Get returns the current snapshot of a debate.
func (s *DebateService) Get(id string) (*DebateSnapshot, error) {
	d, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(d), nil
}

// Delete cancels a debate if running and removes it from the registry. The
// persisted session, if any, is untouched.
func (s *DebateService) Delete(id string) error {
	d, err := s.get(id)
	if err != nil {
		return err
	}
	d.cancelRun()
	s.debates.Delete(id)
	return nil
}

// Close cancels every running debate. Used on shutdown.
func (s *DebateService) Close() {
	s.debates.Range(func(key, value any) bool {
		if d, ok := value.(*debate); ok {
			d.cancelRun()
		}
		return true
	})
}

func (s *DebateService) get(id string) (*debate, error) {
	v, ok := s.debates.Load(id)
	if !ok {
		return nil, ErrDebateNotFound
	}
	return v.(*debate), nil
}

func (s *DebateService) snapshot(d *debate) *DebateSnapshot {
	d.mu.Lock()
	state, sessionID, runErr := d.state, d.sessionID, d.runErr
	d.mu.Unlock()

	snap := &DebateSnapshot{
		ID:        d.id,
		Topic:     d.topic,
		Title:     d.title,
		State:     state,
		Personas:  d.personas,
		ChatLog:   d.transcript.Snapshot(),
		SessionID: sessionID,
	}
	if runErr != nil {
		snap.Error = runErr.Error()
	}
	return snap
}

func (s *DebateService) transition(d *debate, state string) {
	d.setState(state)
	s.emitter.Emit(event.DebateStateEvent{DebateID: d.id, State: state})
}

// run is the scheduler goroutine. It owns all state transitions after Start.
func (s *DebateService) run(ctx context.Context, d *debate) {
	defer d.cancelRun()

	if !s.countdown(ctx, d) {
		return
	}

	s.transition(d, StateDebating)
	halted := s.turnLoop(ctx, d)
	if halted {
		return
	}

	s.concludeAndPersist(ctx, d)
}

// countdown emits the pre-debate countdown. Returns false when cancelled.
func (s *DebateService) countdown(ctx context.Context, d *debate) bool {
	s.transition(d, StateCountdown)

	interval := s.cfg.CountdownInterval()
	for remaining := s.cfg.CountdownSteps(); remaining > 0; remaining-- {
		s.emitter.Emit(event.DebateCountdownEvent{DebateID: d.id, Remaining: remaining})
		if !sleepCtx(ctx, interval) {
			s.transition(d, StateErrored)
			return false
		}
	}
	s.emitter.Emit(event.DebateCountdownEvent{DebateID: d.id, Remaining: 0})
	return true
}

// turnLoop runs round-robin turns until the limit, a conclude request or a
// failure. Returns true when the debate halted with an error.
func (s *DebateService) turnLoop(ctx context.Context, d *debate) (halted bool) {
	maxTurns := s.cfg.MaxTurns()
	delay := s.cfg.InterTurnDelay()

	for turn := 0; turn < maxTurns; turn++ {
		if d.concluding.Load() || ctx.Err() != nil {
			return ctx.Err() != nil
		}

		speaker := d.personas[turn%len(d.personas)]
		voice := turn % len(d.personas)
		s.emitter.Emit(event.DebateSpeakerEvent{DebateID: d.id, PersonaName: speaker.Name, VoiceIndex: voice})

		err := s.runTurn(ctx, d, speaker)
		s.emitter.Emit(event.DebateSpeakerEvent{DebateID: d.id, PersonaName: "", VoiceIndex: voice})

		if err != nil {
			// A turn cancelled by Conclude is not a failure; the debate
			// proceeds straight to synthesis.
			if d.concluding.Load() && errors.Is(err, context.Canceled) {
				return false
			}
			s.fail(d, "transport", err)
			return true
		}

		if turn < maxTurns-1 && !d.concluding.Load() {
			if !sleepCtx(ctx, delay) {
				return true
			}
		}
	}
	return false
}

// runTurn streams one turn into the transcript.
func (s *DebateService) runTurn(ctx context.Context, d *debate, speaker models.Persona) error {
	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout())
	d.turnCancel.Store(cancel)
	defer cancel()

	window := d.transcript.Window(s.cfg.ContextWindow())
	fragments, err := s.turns.StreamTurn(turnCtx, d.topic, speaker, d.personas, window)
	if err != nil {
		return err
	}

	for frag := range fragments {
		if frag.Err != nil {
			return frag.Err
		}
		if frag.Text == "" && !frag.Done {
			continue
		}
		index := d.transcript.Apply(speaker.Name, frag.Text)
		s.emitter.Emit(event.DebateMessageEvent{
			DebateID:    d.id,
			Index:       index,
			PersonaName: speaker.Name,
			Message:     frag.Text,
			Final:       frag.Done,
		})
	}
	return nil
}

// concludeAndPersist synthesizes the conclusion and saves the session. A
// synthesis failure is reported but the session is still persisted, with a
// nil conclusion, so the transcript survives.
func (s *DebateService) concludeAndPersist(ctx context.Context, d *debate) {
	d.concluding.Store(true)
	s.transition(d, StateSynthesizing)

	log := d.transcript.Snapshot()

	var conclusion *models.Conclusion
	if len(log) > 0 {
		var err error
		conclusion, err = s.synthesis.Synthesize(ctx, d.topic, d.personas, log)
		if err != nil {
			kind := "transport"
			if errors.Is(err, ErrMalformedConclusion) {
				kind = "malformed"
			}
			s.logger.Error("Conclusion synthesis failed", "debate_id", d.id, "error", err)
			s.emitter.Emit(event.DebateErrorEvent{DebateID: d.id, Kind: kind, Message: err.Error()})
			conclusion = nil
		}
	}

	session := &models.DebateSession{
		ID:         models.NewSessionID(time.Now()),
		CreatedAt:  time.Now(),
		Topic:      d.topic,
		Title:      d.title,
		Personas:   d.personas,
		ChatLog:    log,
		Conclusion: conclusion,
	}
	if err := s.store.Put(ctx, session); err != nil {
		s.emitter.Emit(event.DebateErrorEvent{DebateID: d.id, Kind: "storage", Message: err.Error()})
		s.fail(d, "storage", err)
		return
	}

	d.mu.Lock()
	d.sessionID = session.ID
	d.mu.Unlock()

	s.emitter.Emit(event.SessionSavedEvent{SessionID: session.ID})
	s.transition(d, StateComplete)
	s.logger.Info("Debate complete", "debate_id", d.id, "session_id", session.ID, "messages", len(log))
}

func (s *DebateService) fail(d *debate, kind string, err error) {
	d.mu.Lock()
	d.runErr = err
	d.mu.Unlock()
	s.logger.Error("Debate halted", "debate_id", d.id, "kind", kind, "error", err)
	s.emitter.Emit(event.DebateErrorEvent{DebateID: d.id, Kind: kind, Message: err.Error()})
	s.transition(d, StateErrored)
	// An errored debate stays retryable: release the conclude claim so a later
	// Conclude can run synthesis and persistence again.
	d.concluding.Store(false)
}

// sleepCtx sleeps for dur unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
