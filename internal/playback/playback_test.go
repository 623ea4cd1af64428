package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vocalis/internal/command"
	"vocalis/internal/domain"
	"vocalis/internal/render"
)

type fakeOutput struct {
	mu      sync.Mutex
	calls   []string
	initErr error
	pos     time.Duration
}

func (o *fakeOutput) record(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, s)
}

func (o *fakeOutput) Init(render.Result) error { o.record("init"); return o.initErr }
func (o *fakeOutput) Play() error { o.record("play"); return nil }
func (o *fakeOutput) Pause() error { o.record("pause"); return nil }
func (o *fakeOutput) Stop() error { o.record("stop"); return nil }
func (o *fakeOutput) Position() time.Duration { return o.pos }

func (o *fakeOutput) log() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

type sink struct {
	mu   sync.Mutex
	cmds []command.Command
}

func (s *sink) Execute(c command.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, c)
}

func (s *sink) snapshot() []command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]command.Command(nil), s.cmds...)
}

func complete(kind render.Kind, startMs float64) render.RenderCompleteNotification {
	return render.RenderCompleteNotification{Result: render.Result{
		Scope:   render.Scope{Kind: kind, Track: -1},
		Mix:     render.Mix{SampleRate: 1000, Samples: make([]float32, 2000)},
		StartMs: startMs,
	}}
}

func TestInteractiveResultStartsPlayback(t *testing.T) {
	out := &fakeOutput{}
	c := NewController(out, &sink{})

	c.OnNotify(complete(render.KindInteractive, 0), false)
	require.Equal(t, []string{"init", "play"}, out.log())
	require.Equal(t, Playing, c.State())

	c.OnNotify(render.RenderFailedNotification{Err: errors.New("x")}, false)
	require.Equal(t, []string{"init", "play", "stop"}, out.log())
	require.Equal(t, Stopped, c.State())
}

func TestNonInteractiveResultsAreIgnored(t *testing.T) {
	out := &fakeOutput{}
	c := NewController(out, nil)
	c.OnNotify(complete(render.KindPreRender, 0), false)
	c.OnNotify(command.PreRenderNotification{}, false)
	require.Empty(t, out.log())

	// Stop while stopped does not touch the device.
	c.OnNotify(render.RenderFailedNotification{Err: errors.New("x")}, false)
	require.Empty(t, out.log())
}

func TestInitFailurePostsError(t *testing.T) {
	out := &fakeOutput{initErr: errors.New("no device")}
	s := &sink{}
	c := NewController(out, s)

	c.OnNotify(complete(render.KindInteractive, 0), false)
	require.Equal(t, Stopped, c.State())
	cmds := s.snapshot()
	require.Len(t, cmds, 1)
	en, ok := cmds[0].(command.ErrorNotification)
	require.True(t, ok)
	require.ErrorIs(t, en.Err, out.initErr)
}

func TestPauseResumeAndPosition(t *testing.T) {
	out := &fakeOutput{pos: 250 * time.Millisecond}
	c := NewController(out, nil)
	_, ok := c.PositionMs()
	require.False(t, ok)

	c.OnNotify(complete(render.KindInteractive, 1000), false)
	ms, ok := c.PositionMs()
	require.True(t, ok)
	require.InDelta(t, 1250, ms, 0.001)

	c.Pause()
	require.Equal(t, Paused, c.State())
	c.Resume()
	require.Equal(t, Playing, c.State())
	c.OnNotify(command.LoadProjectNotification{Project: domain.NewProject("x")}, false)
	require.Equal(t, Stopped, c.State())
	require.Equal(t, []string{"init", "play", "pause", "play", "stop"}, out.log())
}

func TestNullOutputClock(t *testing.T) {
	now := time.Unix(0, 0)
	o := NewNullOutput()
	o.now = func() time.Time { return now }
	require.ErrorIs(t, o.Play(), ErrNotInitialized)

	require.NoError(t, o.Init(render.Result{Mix: render.Mix{SampleRate: 1000, Samples: make([]float32, 2000)}}))
	require.NoError(t, o.Play())
	now = now.Add(400 * time.Millisecond)
	require.Equal(t, 400*time.Millisecond, o.Position())

	require.NoError(t, o.Pause())
	now = now.Add(time.Second)
	require.Equal(t, 400*time.Millisecond, o.Position())

	require.NoError(t, o.Play())
	now = now.Add(5 * time.Second)
	require.Equal(t, time.Second, o.Position(), "position is clamped to the mix length")

	require.NoError(t, o.Stop())
	require.Zero(t, o.Position())
}
