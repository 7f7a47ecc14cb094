package compose

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/attune-labs/attune/backend/internal/model/chat"
	chatservice "github.com/attune-labs/attune/backend/internal/service/chat"
	toneservice "github.com/attune-labs/attune/backend/internal/service/tone"
	"github.com/attune-labs/attune/backend/internal/store"
)

type stubClassifier struct {
	result toneservice.Result
	calls  int32
}

func (s *stubClassifier) Classify(_ context.Context, _ string, _ []chat.Message) toneservice.Result {
	atomic.AddInt32(&s.calls, 1)
	return s.result
}

type stubRewriter struct {
	enabled bool
	text    string
	err     error
	calls   int32
}

func (s *stubRewriter) Enabled() bool { return s.enabled }

func (s *stubRewriter) Rewrite(_ context.Context, _ string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.text, s.err
}

// flakyStore injects InsertMessage failures on top of the memory store.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failNext bool
	inserts  int
}

func (f *flakyStore) InsertMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	if !fail {
		f.inserts++
	}
	f.mu.Unlock()
	if fail {
		return chat.Message{}, errors.New("disk full")
	}
	return f.Store.InsertMessage(ctx, msg)
}

func (f *flakyStore) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

func newTestPipeline(t *testing.T, rewriter Rewriter) (*Pipeline, *flakyStore, chat.Session) {
	t.Helper()
	flaky := &flakyStore{Store: store.NewMemory()}
	chatSvc := chatservice.NewService(flaky, nil)

	session, err := chatSvc.CreateSession(context.Background(), "user-a", "Alex")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	classifier := &stubClassifier{result: toneservice.Result{
		Tone:       chat.ToneAnalysis{Label: "blaming", Intensity: 6, TriggerWords: []string{"you never"}},
		Confidence: 0.9,
	}}
	return NewPipeline(classifier, rewriter, chatSvc), flaky, session
}

func TestPrepareSendRejectsEmptyText(t *testing.T) {
	pipeline, _, session := newTestPipeline(t, nil)

	if _, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "   ", false); !errors.Is(err, ErrTextRequired) {
		t.Fatalf("expected ErrTextRequired, got %v", err)
	}
}

func TestPrepareSendRejectsUnknownSession(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t, nil)

	if _, err := pipeline.PrepareSend(context.Background(), "nope", "user-a", "hi", false); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected session-not-found, got %v", err)
	}
}

func TestPrepareThenCommitPersistsOriginalWithTone(t *testing.T) {
	pipeline, _, session := newTestPipeline(t, nil)

	draft, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "You never listen to me", false)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if draft.Tone.Label != "blaming" || draft.Confidence != 0.9 {
		t.Fatalf("unexpected tone on draft: %+v", draft)
	}
	if draft.SuggestedRewrite != "" {
		t.Fatalf("unasked-for rewrite: %q", draft.SuggestedRewrite)
	}

	saved, err := pipeline.CommitSend(context.Background(), draft.ID, false)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if saved.Body != "You never listen to me" {
		t.Fatalf("unexpected body %q", saved.Body)
	}
	if saved.Tone.Label != "blaming" {
		t.Fatalf("tone metadata lost on commit: %+v", saved.Tone)
	}
	if saved.ID == "" {
		t.Fatalf("committed message missing id")
	}
}

func TestCommitWithRewritePersistsSuggestion(t *testing.T) {
	rewriter := &stubRewriter{enabled: true, text: "I feel unheard when this happens"}
	pipeline, _, session := newTestPipeline(t, rewriter)

	draft, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "You never listen to me", true)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if draft.SuggestedRewrite != rewriter.text {
		t.Fatalf("expected suggestion %q, got %q", rewriter.text, draft.SuggestedRewrite)
	}

	saved, err := pipeline.CommitSend(context.Background(), draft.ID, true)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if saved.Body != rewriter.text {
		t.Fatalf("expected rewritten body, got %q", saved.Body)
	}
}

func TestRewriteFailureLeavesSuggestionEmpty(t *testing.T) {
	rewriter := &stubRewriter{enabled: true, err: errors.New("model timeout")}
	pipeline, _, session := newTestPipeline(t, rewriter)

	draft, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "You never listen", true)
	if err != nil {
		t.Fatalf("prepare must survive a rewrite failure: %v", err)
	}
	if draft.SuggestedRewrite != "" {
		t.Fatalf("expected empty suggestion, got %q", draft.SuggestedRewrite)
	}

	if _, err := pipeline.CommitSend(context.Background(), draft.ID, true); !errors.Is(err, ErrNoRewrite) {
		t.Fatalf("expected ErrNoRewrite, got %v", err)
	}
	// The original is still sendable.
	if _, err := pipeline.CommitSend(context.Background(), draft.ID, false); err != nil {
		t.Fatalf("original commit failed: %v", err)
	}
}

func TestDisabledRewriterNeverCalled(t *testing.T) {
	rewriter := &stubRewriter{enabled: false, text: "unused"}
	pipeline, _, session := newTestPipeline(t, rewriter)

	if _, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "hello", true); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if atomic.LoadInt32(&rewriter.calls) != 0 {
		t.Fatalf("disabled rewriter was invoked")
	}
}

func TestDoubleCommitPersistsOnce(t *testing.T) {
	pipeline, flaky, session := newTestPipeline(t, nil)

	draft, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "hello", false)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	if _, err := pipeline.CommitSend(context.Background(), draft.ID, false); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if _, err := pipeline.CommitSend(context.Background(), draft.ID, false); !errors.Is(err, ErrDraftAlreadySent) {
		t.Fatalf("expected ErrDraftAlreadySent, got %v", err)
	}
	if flaky.insertCount() != 1 {
		t.Fatalf("expected one insert, got %d", flaky.insertCount())
	}
}

func TestConcurrentCommitsPersistOnce(t *testing.T) {
	pipeline, flaky, session := newTestPipeline(t, nil)

	draft, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "hello", false)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pipeline.CommitSend(context.Background(), draft.ID, false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrCommitInFlight), errors.Is(err, ErrDraftAlreadySent):
		default:
			t.Fatalf("unexpected commit error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful commit, got %d", succeeded)
	}
	if flaky.insertCount() != 1 {
		t.Fatalf("expected one insert, got %d", flaky.insertCount())
	}
}

func TestStoreFailureLeavesDraftRetryable(t *testing.T) {
	pipeline, flaky, session := newTestPipeline(t, nil)

	draft, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "hello", false)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	flaky.mu.Lock()
	flaky.failNext = true
	flaky.mu.Unlock()

	if _, err := pipeline.CommitSend(context.Background(), draft.ID, false); err == nil {
		t.Fatalf("expected commit to surface the store error")
	}

	saved, err := pipeline.CommitSend(context.Background(), draft.ID, false)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if saved.Body != "hello" {
		t.Fatalf("unexpected retried body %q", saved.Body)
	}
	if flaky.insertCount() != 1 {
		t.Fatalf("expected one persisted insert, got %d", flaky.insertCount())
	}
}

func TestCommitUnknownDraft(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t, nil)

	if _, err := pipeline.CommitSend(context.Background(), "ghost", false); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
}

func TestClassifierReceivesTrimmedText(t *testing.T) {
	pipeline, _, session := newTestPipeline(t, nil)

	draft, err := pipeline.PrepareSend(context.Background(), session.ID, "user-a", "  hello there  ", false)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if draft.OriginalText != "hello there" {
		t.Fatalf("expected trimmed text, got %q", draft.OriginalText)
	}
	if draft.CreatedAt.After(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("implausible draft timestamp %s", draft.CreatedAt)
	}
}
