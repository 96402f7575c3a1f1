package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dialectica/dialectica/pkg/config"
	"github.com/dialectica/dialectica/pkg/db"
	"github.com/dialectica/dialectica/pkg/event"
	"github.com/dialectica/dialectica/pkg/models"
)

func iptr(v int) *int { return &v }

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Debate: config.DebateConfig{
			MaxTurns:            iptr(4),
			InterTurnDelayMs:    iptr(1),
			CountdownSteps:      iptr(1),
			CountdownIntervalMs: iptr(1),
			TurnTimeoutS:        iptr(5),
			ContextWindow:       iptr(5),
		},
		Replay: config.ReplayConfig{TickMs: iptr(5)},
	}
}

func testStore(t *testing.T) db.SessionStore {
	t.Helper()
	store, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type fakePersonaGen struct{}

func (fakePersonaGen) GeneratePersona(_ context.Context, input models.PersonaInput, _ string) (*models.Persona, error) {
	return &models.Persona{
		UserInput:       input,
		Name:            input.Name,
		Title:           "Analyst",
		Summary:         "Pragmatic voice.",
		FullDescription: "A pragmatic analyst.",
	}, nil
}

func (fakePersonaGen) GenerateTitle(context.Context, string) (string, error) {
	return "Test Title", nil
}

// fakeTurnSource records speakers and emits a partial then a final fragment
// per turn. It can block until cancelled or fail on a given turn instead.
type fakeTurnSource struct {
	mu       sync.Mutex
	speakers []string

	block      bool
	failOnTurn int // 1-based, 0 = never
}

func (f *fakeTurnSource) StreamTurn(ctx context.Context, _ string, speaker models.Persona, _ models.Personas, _ models.ChatLog) (<-chan Fragment, error) {
	f.mu.Lock()
	f.speakers = append(f.speakers, speaker.Name)
	turn := len(f.speakers)
	f.mu.Unlock()

	out := make(chan Fragment, 4)
	if f.failOnTurn > 0 && turn == f.failOnTurn {
		out <- Fragment{Err: errors.New("provider unreachable")}
		close(out)
		return out, nil
	}
	if f.block {
		go func() {
			<-ctx.Done()
			out <- Fragment{Err: ctx.Err()}
			close(out)
		}()
		return out, nil
	}

	out <- Fragment{Text: "thinking"}
	out <- Fragment{Text: fmt.Sprintf("%s speaks in turn %d", speaker.Name, turn), Done: true}
	close(out)
	return out, nil
}

func (f *fakeTurnSource) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.speakers))
	copy(out, f.speakers)
	return out
}

type fakeSynth struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSynth) Synthesize(context.Context, string, models.Personas, models.ChatLog) (*models.Conclusion, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Conclusion{
		Summary:    []string{"point"},
		Conclusion: "They found common ground.",
	}, nil
}

func waitForState(t *testing.T, svc *DebateService, id, want string) *DebateSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.Get(id)
		if err != nil {
			t.Fatalf("get debate: %v", err)
		}
		if snap.State == want {
			return snap
		}
		if snap.State == StateErrored && want != StateErrored {
			t.Fatalf("debate errored while waiting for %s: %s", want, snap.Error)
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap, _ := svc.Get(id)
	t.Fatalf("debate never reached %s, stuck in %s", want, snap.State)
	return nil
}

func newTestDebate(t *testing.T, turns TurnSource, synth Synthesizer, store db.SessionStore) (*DebateService, *DebateSnapshot) {
	t.Helper()
	svc := NewDebateService(testConfig(), event.NewEmitter(), store, turns, fakePersonaGen{}, synth)
	snap, err := svc.Create(context.Background(), "Should cities ban cars?", []models.PersonaInput{
		{ID: 1, Name: "Ada"},
		{ID: 2, Name: "Grace"},
	})
	if err != nil {
		t.Fatalf("create debate: %v", err)
	}
	return svc, snap
}

func TestDebate_RoundRobinToTurnLimit(t *testing.T) {
	store := testStore(t)
	turns := &fakeTurnSource{}
	synth := &fakeSynth{}
	svc, snap := newTestDebate(t, turns, synth, store)

	if snap.State != StateIdle || snap.Title != "Test Title" {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
	if err := svc.Start(snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	final := waitForState(t, svc, snap.ID, StateComplete)

	want := []string{"Ada", "Grace", "Ada", "Grace"}
	got := turns.spoken()
	if len(got) != len(want) {
		t.Fatalf("spoke %d turns, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("turn %d spoken by %s, want %s", i, got[i], want[i])
		}
	}

	if len(final.ChatLog) != 4 {
		t.Fatalf("transcript has %d messages, want 4", len(final.ChatLog))
	}
	if n := synth.calls.Load(); n != 1 {
		t.Fatalf("synthesis ran %d times, want 1", n)
	}

	session, err := store.Get(context.Background(), final.SessionID)
	if err != nil {
		t.Fatalf("persisted session not retrievable: %v", err)
	}
	if session.Conclusion == nil || session.Conclusion.Conclusion == "" {
		t.Fatalf("persisted session missing conclusion: %+v", session.Conclusion)
	}
	if len(session.ChatLog) != 4 {
		t.Fatalf("persisted transcript has %d messages, want 4", len(session.ChatLog))
	}
}

func TestDebate_StartTwiceRejected(t *testing.T) {
	svc, snap := newTestDebate(t, &fakeTurnSource{}, &fakeSynth{}, testStore(t))

	if err := svc.Start(snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Start(snap.ID); !errors.Is(err, ErrDebateNotIdle) {
		t.Fatalf("second start returned %v, want ErrDebateNotIdle", err)
	}
	waitForState(t, svc, snap.ID, StateComplete)
}

func TestDebate_ConcludeIsOneShot(t *testing.T) {
	store := testStore(t)
	turns := &fakeTurnSource{block: true}
	synth := &fakeSynth{}
	svc, snap := newTestDebate(t, turns, synth, store)

	if err := svc.Start(snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, svc, snap.ID, StateDebating)

	if err := svc.Conclude(snap.ID); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	if err := svc.Conclude(snap.ID); !errors.Is(err, ErrAlreadyConcluding) {
		t.Fatalf("second conclude returned %v, want ErrAlreadyConcluding", err)
	}

	final := waitForState(t, svc, snap.ID, StateComplete)
	if final.SessionID == "" {
		t.Fatal("concluded debate did not persist a session")
	}
	// The only turn was cancelled mid-stream, so there was nothing to
	// synthesize.
	if n := synth.calls.Load(); n != 0 {
		t.Fatalf("synthesis ran %d times for an empty transcript, want 0", n)
	}
	session, err := store.Get(context.Background(), final.SessionID)
	if err != nil {
		t.Fatalf("persisted session not retrievable: %v", err)
	}
	if session.Conclusion != nil {
		t.Fatalf("empty debate persisted a conclusion: %+v", session.Conclusion)
	}
}

func TestDebate_StreamErrorHaltsWithoutPersisting(t *testing.T) {
	store := testStore(t)
	turns := &fakeTurnSource{failOnTurn: 2}
	svc, snap := newTestDebate(t, turns, &fakeSynth{}, store)

	if err := svc.Start(snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitForState(t, svc, snap.ID, StateErrored)

	if final.Error == "" {
		t.Fatal("errored debate carries no error message")
	}
	if len(final.ChatLog) != 1 {
		t.Fatalf("transcript has %d messages, want the 1 completed turn", len(final.ChatLog))
	}
	sessions, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("halted debate persisted %d sessions, want 0", len(sessions))
	}
}

func TestDebate_ConcludeRetriesAfterStreamError(t *testing.T) {
	store := testStore(t)
	turns := &fakeTurnSource{failOnTurn: 2}
	synth := &fakeSynth{}
	svc, snap := newTestDebate(t, turns, synth, store)

	if err := svc.Start(snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, svc, snap.ID, StateErrored)

	if err := svc.Conclude(snap.ID); err != nil {
		t.Fatalf("conclude after stream error: %v", err)
	}

	// The retry passes back through synthesizing, so poll for complete without
	// treating a lingering errored read as fatal.
	var final *DebateSnapshot
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.Get(snap.ID)
		if err != nil {
			t.Fatalf("get debate: %v", err)
		}
		if got.State == StateComplete {
			final = got
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if final == nil {
		t.Fatal("errored debate never completed after conclude")
	}
	if final.SessionID == "" {
		t.Fatal("retried conclude did not persist a session")
	}
	if final.Error != "" {
		t.Fatalf("error not cleared after successful retry: %s", final.Error)
	}
	if n := synth.calls.Load(); n != 1 {
		t.Fatalf("synthesis ran %d times, want 1", n)
	}

	session, err := store.Get(context.Background(), final.SessionID)
	if err != nil {
		t.Fatalf("persisted session not retrievable: %v", err)
	}
	if len(session.ChatLog) != 1 {
		t.Fatalf("persisted transcript has %d messages, want the 1 completed turn", len(session.ChatLog))
	}
	if session.Conclusion == nil {
		t.Fatal("retried conclude persisted no conclusion")
	}
}

func TestDebate_SynthesisFailurePersistsNilConclusion(t *testing.T) {
	store := testStore(t)
	synth := &fakeSynth{err: ErrMalformedConclusion}
	svc, snap := newTestDebate(t, &fakeTurnSource{}, synth, store)

	if err := svc.Start(snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	final := waitForState(t, svc, snap.ID, StateComplete)

	session, err := store.Get(context.Background(), final.SessionID)
	if err != nil {
		t.Fatalf("persisted session not retrievable: %v", err)
	}
	if session.Conclusion != nil {
		t.Fatalf("failed synthesis persisted a conclusion: %+v", session.Conclusion)
	}
	if len(session.ChatLog) != 4 {
		t.Fatalf("transcript lost on synthesis failure: %d messages", len(session.ChatLog))
	}
}

func TestDebate_CreateRejectsBadParticipantCount(t *testing.T) {
	svc := NewDebateService(testConfig(), event.NewEmitter(), testStore(t), &fakeTurnSource{}, fakePersonaGen{}, &fakeSynth{})

	_, err := svc.Create(context.Background(), "topic", []models.PersonaInput{{ID: 1, Name: "Solo"}})
	if err == nil {
		t.Fatal("single participant accepted, want error")
	}
}

func TestDebate_DeleteCancelsRun(t *testing.T) {
	svc, snap := newTestDebate(t, &fakeTurnSource{block: true}, &fakeSynth{}, testStore(t))

	if err := svc.Start(snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, svc, snap.ID, StateDebating)

	if err := svc.Delete(snap.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(snap.ID); !errors.Is(err, ErrDebateNotFound) {
		t.Fatalf("deleted debate still resolvable, err=%v", err)
	}
}
