package presenter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/furin-lab/nanika/sakura"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder logs presenter calls as strings.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (r *recorder) add(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if r.fail != "" && r.fail == call {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) DisplayText(ctx context.Context, text string, scope int) error {
	return r.add(fmt.Sprintf("text %d %s", scope, text))
}

func (r *recorder) ChangeSurface(ctx context.Context, surface, scope int) error {
	return r.add(fmt.Sprintf("surface %d %d", scope, surface))
}

func (r *recorder) Wait(ctx context.Context, d time.Duration) error {
	return r.add(fmt.Sprintf("wait %s", d))
}

func (r *recorder) ShowChoices(ctx context.Context, choices []sakura.Choice) error {
	return r.add(fmt.Sprintf("choices %d", len(choices)))
}

func (r *recorder) Hide(ctx context.Context) error {
	return r.add("hide")
}

func runRunner(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestRunnerExecutesInOrder(t *testing.T) {
	rec := &recorder{}
	r := NewRunner(rec, nil)
	runRunner(t, r)

	require.NoError(t, r.Enqueue(sakura.Parse(`\h\s[5]Hello\w2\u\s[11]Yo\q[Yes,y]\e`)))
	require.NoError(t, r.Enqueue(sakura.Parse(`\hAgain`)))

	want := []string{
		"surface 0 5",
		"text 0 Hello",
		"wait 100ms",
		"surface 1 11",
		"text 1 Yo",
		"choices 1",
		"hide",
		"text 0 Again",
	}
	assert.Eventually(t, func() bool { return len(rec.Calls()) == len(want) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, rec.Calls())
	assert.Equal(t, Snapshot{Surface: 5, Talking: true}, r.Snapshot())
}

func TestRunnerSnapshot(t *testing.T) {
	rec := &recorder{}
	r := NewRunner(rec, nil)
	assert.Equal(t, Snapshot{}, r.Snapshot())
	runRunner(t, r)

	require.NoError(t, r.Enqueue([]sakura.Action{sakura.ChangeSurface(3, 0), sakura.DisplayText("hi", 0), sakura.End()}))
	assert.Eventually(t, func() bool { return len(rec.Calls()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Snapshot{Surface: 3, Talking: false}, r.Snapshot())
}

func TestRunnerSurfacesCarryAcrossScripts(t *testing.T) {
	rec := &recorder{}
	r := NewRunner(rec, nil)
	runRunner(t, r)

	require.NoError(t, r.EnqueueScript(`\hEhehe\s[10]\e`))
	require.NoError(t, r.EnqueueScript(`\hPat pat, thank you.\s[0]\e`))
	require.NoError(t, r.EnqueueScript(""))

	want := []string{
		"text 0 Ehehe",
		"surface 0 10",
		"hide",
		"text 0 Pat pat, thank you.",
		"surface 0 0",
		"hide",
	}
	assert.Eventually(t, func() bool { return len(rec.Calls()) == len(want) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, rec.Calls())
	assert.Equal(t, 0, r.Snapshot().Surface)
}

func TestRunnerContinuesAfterFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &recorder{fail: "text 0 bad"}
	r := NewRunner(rec, zap.New(core))
	runRunner(t, r)

	require.NoError(t, r.Enqueue([]sakura.Action{sakura.DisplayText("bad", 0), sakura.DisplayText("good", 0)}))
	assert.Eventually(t, func() bool { return len(rec.Calls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("action failed").Len())
}

func TestRunnerQueueFull(t *testing.T) {
	r := NewRunner(&recorder{}, nil)
	assert.NoError(t, r.Enqueue(nil))
	for i := 0; i < runnerQueueSize; i++ {
		require.NoError(t, r.Enqueue([]sakura.Action{sakura.End()}))
	}
	assert.ErrorIs(t, r.Enqueue([]sakura.Action{sakura.End()}), ErrQueueFull)
}

func TestRunnerFlush(t *testing.T) {
	rec := &recorder{}
	r := NewRunner(rec, nil)
	require.NoError(t, r.Enqueue(sakura.Parse(`\h\s[0]Bye\e`)))
	require.NoError(t, r.Enqueue(sakura.Parse(`\hSee you\e`)))

	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, []string{"text 0 Bye", "hide", "text 0 See you", "hide"}, rec.Calls())
	require.NoError(t, r.Flush(context.Background()), "empty queue")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewRunner(NewLog(nil), nil)
	require.NoError(t, slow.Enqueue([]sakura.Action{sakura.Wait(time.Second)}))
	assert.ErrorIs(t, slow.Flush(ctx), context.Canceled)
}

func TestMultiWaitsConcurrently(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi(NewLog(nil), NewLog(nil), a, b)

	start := time.Now()
	require.NoError(t, m.Wait(context.Background(), 100*time.Millisecond))
	assert.Less(t, time.Since(start), 190*time.Millisecond)

	require.NoError(t, m.DisplayText(context.Background(), "hi", 0))
	assert.Equal(t, []string{"wait 100ms", "text 0 hi"}, a.Calls())
	assert.Equal(t, a.Calls(), b.Calls())
}

func TestMultiJoinsErrors(t *testing.T) {
	a := &recorder{fail: "hide"}
	b := &recorder{}
	err := Multi(a, b).Hide(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"hide"}, b.Calls(), "every presenter is called")
}

func TestLogPresenter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLog(zap.New(core))
	ctx := context.Background()

	require.NoError(t, l.DisplayText(ctx, "Hello", 0))
	require.NoError(t, l.ShowChoices(ctx, []sakura.Choice{{Label: "Yes", ID: "y"}}))
	require.NoError(t, l.ChangeSurface(ctx, 3, 0))
	require.NoError(t, l.Hide(ctx))

	say := logs.FilterMessage("say").All()
	require.Len(t, say, 1)
	assert.Equal(t, "Hello", say[0].ContextMap()["text"])
	assert.Equal(t, 1, logs.FilterMessage("choices").Len())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, l.Wait(canceled, time.Minute), context.Canceled)
}
