// Session replay: timer-driven and narration-driven playback.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialectica/dialectica/pkg/config"
	"github.com/dialectica/dialectica/pkg/db"
	"github.com/dialectica/dialectica/pkg/event"
	"github.com/dialectica/dialectica/pkg/models"
	"github.com/dialectica/dialectica/pkg/utils"
)

var (
	// ErrReplayNotFound is returned for unknown replay ids.
	ErrReplayNotFound = errors.New("replay not found")
	// ErrSeekOutOfRange is returned when a seek target is outside -1..len-1.
	ErrSeekOutOfRange = errors.New("seek index out of range")
)

// Narrator speaks replay messages out loud. The websocket implementation
// forwards to the frontend's speech synthesis; tests substitute a fake.
type Narrator interface {
	// Speak requests narration of text. The narrator reports completion via
	// ReplayService.NarrationDone with the same token.
	Speak(replayID, token, text string, voiceIndex int)
	// Cancel stops any in-progress narration for the replay.
	Cancel(replayID string)
}

// WSNarrator bridges narration to the frontend over the event stream.
type WSNarrator struct {
	emitter *event.Emitter
}

// NewWSNarrator creates a narrator that emits replay.narrate events.
func NewWSNarrator(emitter *event.Emitter) *WSNarrator {
	return &WSNarrator{emitter: emitter}
}

func (n *WSNarrator) Speak(replayID, token, text string, voiceIndex int) {
	n.emitter.Emit(event.ReplayNarrateEvent{
		ReplayID:   replayID,
		Token:      token,
		Text:       text,
		VoiceIndex: voiceIndex,
	})
}

func (n *WSNarrator) Cancel(replayID string) {
	n.emitter.Emit(event.ReplayNarrateEvent{ReplayID: replayID, Cancel: true})
}

// stepDriver paces playback. begin presents one message and calls advance
// exactly once when the step is over; halt abandons the pending step.
type stepDriver interface {
	begin(replayID string, msg models.ChatMessage, voiceIndex int, advance func())
	halt(replayID string)
}

// intervalDriver advances on a fixed timer. Used when audio is off.
type intervalDriver struct {
	tick time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func newIntervalDriver(tick time.Duration) *intervalDriver {
	return &intervalDriver{tick: tick}
}

func (d *intervalDriver) begin(_ string, _ models.ChatMessage, _ int, advance func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.tick, advance)
}

func (d *intervalDriver) halt(string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// narrationDriver advances when the narrator finishes speaking. Used when
// audio is on.
type narrationDriver struct {
	narrator Narrator

	mu      sync.Mutex
	pending map[string]func() // token -> advance
}

func newNarrationDriver(narrator Narrator) *narrationDriver {
	return &narrationDriver{
		narrator: narrator,
		pending:  make(map[string]func()),
	}
}

func (d *narrationDriver) begin(replayID string, msg models.ChatMessage, voiceIndex int, advance func()) {
	token := uuid.NewString()
	d.mu.Lock()
	d.pending[token] = advance
	d.mu.Unlock()
	d.narrator.Speak(replayID, token, msg.Message, voiceIndex)
}

func (d *narrationDriver) halt(replayID string) {
	d.mu.Lock()
	d.pending = make(map[string]func())
	d.mu.Unlock()
	d.narrator.Cancel(replayID)
}

// done fires the advance registered for token, if still pending.
func (d *narrationDriver) done(token string) {
	d.mu.Lock()
	advance, ok := d.pending[token]
	if ok {
		delete(d.pending, token)
	}
	d.mu.Unlock()
	if ok {
		advance()
	}
}

// replay is the runtime state of one open replay. index ranges from -1
// (before the first message) to len(ChatLog)-1.
type replay struct {
	id      string
	session *models.DebateSession

	mu      sync.Mutex
	index   int
	playing bool
	audioOn bool
	gen     uint64 // bumped by every control action; stale callbacks are dropped
	driver  stepDriver
}

// ReplaySnapshot is the externally visible state of a replay.
type ReplaySnapshot struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Playing   bool   `json:"playing"`
	AudioOn   bool   `json:"audioOn"`
	Length    int    `json:"length"`
}

// ReplayService plays stored sessions back, either on a fixed tick or paced
// by narration.
type ReplayService struct {
	cfg      *config.AppConfig
	emitter  *event.Emitter
	store    db.SessionStore
	narrator Narrator
	logger   *slog.Logger

	replays sync.Map // id -> *replay
}

// NewReplayService creates a new replay service.
func NewReplayService(cfg *config.AppConfig, emitter *event.Emitter, store db.SessionStore, narrator Narrator) *ReplayService {
	return &ReplayService{
		cfg:      cfg,
		emitter:  emitter,
		store:    store,
		narrator: narrator,
		logger:   utils.GetLogger(),
	}
}

// Open loads a stored session and registers a paused replay positioned before
// the first message.
func (s *ReplayService) Open(ctx context.Context, sessionID string) (*ReplaySnapshot, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r := &replay{
		id:      uuid.NewString(),
		session: session,
		index:   -1,
		driver:  newIntervalDriver(s.cfg.ReplayTick()),
	}
	s.replays.Store(r.id, r)
	s.logger.Info("Replay opened", "replay_id", r.id, "session_id", sessionID, "messages", len(session.ChatLog))
	return snapshotReplay(r), nil
}

// Get returns the current snapshot of a replay.
func (s *ReplayService) Get(id string) (*ReplaySnapshot, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return snapshotReplay(r), nil
}

// Play starts playback. Playing from the end restarts from the beginning.
// No-op when already playing or the transcript is empty.
func (s *ReplayService) Play(id string) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.playing || len(r.session.ChatLog) == 0 {
		r.mu.Unlock()
		return nil
	}
	if r.index >= len(r.session.ChatLog)-1 {
		r.index = -1
		s.emitter.Emit(event.ReplayIndexEvent{ReplayID: r.id, Index: r.index})
	}
	r.playing = true
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	s.emitState(r)
	s.step(r, gen)
	return nil
}

// Pause halts playback in place. Idempotent.
func (s *ReplayService) Pause(id string) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.playing {
		r.mu.Unlock()
		return nil
	}
	r.playing = false
	r.gen++
	driver := r.driver
	r.mu.Unlock()

	driver.halt(r.id)
	s.emitState(r)
	return nil
}

// Stop halts playback and rewinds to before the first message. Idempotent.
func (s *ReplayService) Stop(id string) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	wasPlaying, wasAt := r.playing, r.index
	r.playing = false
	r.index = -1
	r.gen++
	driver := r.driver
	r.mu.Unlock()

	driver.halt(r.id)
	if wasPlaying {
		s.emitState(r)
	}
	if wasAt != -1 {
		s.emitter.Emit(event.ReplayIndexEvent{ReplayID: r.id, Index: -1})
	}
	return nil
}

// Seek pauses playback and jumps to index. Skipped messages are not narrated.
// Valid targets are -1 through len-1.
func (s *ReplayService) Seek(id string, index int) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}
	if index < -1 || index >= len(r.session.ChatLog) {
		return fmt.Errorf("%w: %d not in [-1, %d]", ErrSeekOutOfRange, index, len(r.session.ChatLog)-1)
	}

	r.mu.Lock()
	wasPlaying := r.playing
	r.playing = false
	r.index = index
	r.gen++
	driver := r.driver
	r.mu.Unlock()

	driver.halt(r.id)
	if wasPlaying {
		s.emitState(r)
	}
	s.emitter.Emit(event.ReplayIndexEvent{ReplayID: r.id, Index: index})
	return nil
}

// SetAudio switches between timer and narration pacing. Any in-progress
// narration is cancelled; the position does not move. When playing, pacing
// resumes for the current message under the new driver.
func (s *ReplayService) SetAudio(id string, on bool) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.audioOn == on {
		r.mu.Unlock()
		return nil
	}
	old := r.driver
	r.audioOn = on
	if on {
		r.driver = newNarrationDriver(s.narrator)
	} else {
		r.driver = newIntervalDriver(s.cfg.ReplayTick())
	}
	r.gen++
	gen := r.gen
	playing := r.playing
	index := r.index
	driver := r.driver
	r.mu.Unlock()

	old.halt(r.id)
	s.emitState(r)

	if playing && index >= 0 {
		msg := r.session.ChatLog[index]
		driver.begin(r.id, msg, s.voiceIndex(r, msg), s.advanceFunc(r, gen))
	} else if playing {
		s.step(r, gen)
	}
	return nil
}

// NarrationDone reports that the frontend finished speaking one message.
func (s *ReplayService) NarrationDone(id, token string) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	driver, ok := r.driver.(*narrationDriver)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	driver.done(token)
	return nil
}

// Close removes a replay, halting playback.
func (s *ReplayService) Close(id string) error {
	r, err := s.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.playing = false
	r.gen++
	driver := r.driver
	r.mu.Unlock()

	driver.halt(r.id)
	s.replays.Delete(id)
	return nil
}

// CloseAll halts every open replay. Used on shutdown.
func (s *ReplayService) CloseAll() {
	s.replays.Range(func(key, value any) bool {
		if r, ok := value.(*replay); ok {
			_ = s.Close(r.id)
		}
		return true
	})
}

func (s *ReplayService) get(id string) (*replay, error) {
	v, ok := s.replays.Load(id)
	if !ok {
		return nil, ErrReplayNotFound
	}
	return v.(*replay), nil
}

// step advances to the next message and schedules the following advance. The
// caller passes the generation it observed; a mismatch means a control action
// intervened and the step is dropped.
func (s *ReplayService) step(r *replay, gen uint64) {
	r.mu.Lock()
	if r.gen != gen || !r.playing {
		r.mu.Unlock()
		return
	}
	next := r.index + 1
	if next >= len(r.session.ChatLog) {
		r.playing = false
		r.gen++
		r.mu.Unlock()
		s.emitState(r)
		return
	}
	r.index = next
	driver := r.driver
	r.mu.Unlock()

	msg := r.session.ChatLog[next]
	s.emitter.Emit(event.ReplayIndexEvent{ReplayID: r.id, Index: next})
	driver.begin(r.id, msg, s.voiceIndex(r, msg), s.advanceFunc(r, gen))
}

// advanceFunc returns the driver callback for one step, bound to the
// generation observed at scheduling time.
func (s *ReplayService) advanceFunc(r *replay, gen uint64) func() {
	return func() { s.step(r, gen) }
}

func (s *ReplayService) voiceIndex(r *replay, msg models.ChatMessage) int {
	return r.session.PersonaIndex(msg.PersonaName)
}

func (s *ReplayService) emitState(r *replay) {
	r.mu.Lock()
	playing, audioOn := r.playing, r.audioOn
	r.mu.Unlock()
	s.emitter.Emit(event.ReplayStateEvent{ReplayID: r.id, Playing: playing, AudioOn: audioOn})
}

func snapshotReplay(r *replay) *ReplaySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &ReplaySnapshot{
		ID:        r.id,
		SessionID: r.session.ID,
		Index:     r.index,
		Playing:   r.playing,
		AudioOn:   r.audioOn,
		Length:    len(r.session.ChatLog),
	}
}
