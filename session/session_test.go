package session

import (
	"CardDetServer/engine"
	"CardDetServer/store"
	"CardDetServer/tracker"
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func cardFrame() gocv.Mat {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&frame, image.Rect(100, 100, 300, 250), color.RGBA{R: 255, G: 255, B: 255}, -1)
	return frame
}

func blackFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
}

func options() Options {
	return Options{
		MaxSessions: 2,
		Detector:    engine.DefaultParams(),
		Tracker:     tracker.BaseConfig,
	}
}

func newManager(t *testing.T, opts Options, st *store.Store) *Manager {
	t.Helper()
	m, err := NewManager(opts, st)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestManager_AllocRelease(t *testing.T) {
	m := newManager(t, options(), nil)

	a, err := m.Alloc()
	require.NoError(t, err)
	b, err := m.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = m.Alloc()
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, 2, m.Len())

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	closed := make(chan struct{})
	a.OnClose(func() { close(closed) })
	require.NoError(t, m.Release(a.ID))
	<-closed
	assert.ErrorIs(t, m.Release(a.ID), ErrNotFound)
	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Alloc()
	assert.NoError(t, err)
	assert.Len(t, m.List(), 2)
}

func TestNewManager_Invalid(t *testing.T) {
	opts := options()
	opts.MaxSessions = 0
	_, err := NewManager(opts, nil)
	assert.Error(t, err)

	opts = options()
	opts.Tracker.DecayStep = 0
	_, err = NewManager(opts, nil)
	assert.Error(t, err)
}

func TestSession_Submit(t *testing.T) {
	m := newManager(t, options(), nil)
	s, err := m.Alloc()
	require.NoError(t, err)
	ctx := context.Background()

	assert.Empty(t, s.Cards().Ids)

	var last Reply
	for i := 0; i < 3; i++ {
		last, err = s.Submit(ctx, cardFrame())
		require.NoError(t, err)
		require.NoError(t, last.Err)
		assert.NotEmpty(t, last.Frame)
		assert.False(t, last.Skipped)
	}
	require.Len(t, last.Cards, 1)
	card := last.Cards[0]
	assert.Len(t, card.Fingerprint, 4)
	assert.NotEmpty(t, card.Image)
	assert.Equal(t, []string{card.Fingerprint}, last.Confirmed)

	reply := s.Cards()
	assert.Equal(t, []string{card.Fingerprint}, reply.Ids)
	assert.Equal(t, card.Fingerprint, reply.Latest)
	assert.Equal(t, card.Image, reply.Image)

	info := s.Info()
	assert.Equal(t, uint64(3), info.Frames)
	assert.Equal(t, 1, info.Entries)
	assert.Equal(t, "idle", info.State)

	t.Run("unprocessable frame", func(t *testing.T) {
		r, err := s.Submit(ctx, gocv.NewMat())
		require.NoError(t, err)
		assert.True(t, r.Skipped)
		assert.Nil(t, r.Frame)
		assert.Equal(t, uint64(3), s.Info().Frames)
	})

	t.Run("closed session", func(t *testing.T) {
		require.NoError(t, m.Release(s.ID))
		_, err := s.Submit(ctx, cardFrame())
		assert.ErrorIs(t, err, ErrClosed)

		ran := false
		s.OnClose(func() { ran = true })
		assert.True(t, ran)
	})
}

func TestSession_RecoversPanic(t *testing.T) {
	m := newManager(t, options(), nil)
	s, err := m.Alloc()
	require.NoError(t, err)

	process := s.handle
	s.handle = func(gocv.Mat) Reply { panic("boom") }
	r, err := s.Submit(context.Background(), cardFrame())
	require.NoError(t, err)
	assert.Error(t, r.Err)
	assert.Equal(t, "idle", s.Info().State)

	s.handle = process
	r, err = s.Submit(context.Background(), cardFrame())
	require.NoError(t, err)
	assert.NoError(t, r.Err)
	assert.NotEmpty(t, r.Frame)
}

func TestSession_SubmitCancelled(t *testing.T) {
	m := newManager(t, options(), nil)
	s, err := m.Alloc()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// the worker may still win the race against the cancelled context
	_, err = s.Submit(ctx, cardFrame())
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestManager_IdleRelease(t *testing.T) {
	opts := options()
	opts.IdleTimeout = 100 * time.Millisecond
	m := newManager(t, opts, nil)

	s, err := m.Alloc()
	require.NoError(t, err)
	assert.Equal(t, opts.IdleTimeout, m.IdleTimeout())

	require.Eventually(t, func() bool {
		_, err := m.Get(s.ID)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case <-s.Done():
	default:
		t.Fatal("idle session was not closed")
	}
	assert.Equal(t, 0, m.Len())
}

func TestSession_Store(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cards.db"))
	require.NoError(t, err)
	defer st.Close()

	m := newManager(t, options(), st)
	s, err := m.Alloc()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Submit(context.Background(), cardFrame())
		require.NoError(t, err)
	}
	fp := s.Cards().Latest

	cards, err := st.ListCards(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, fp, cards[0].Fingerprint)
	assert.Equal(t, 3.0, cards[0].Confidence)
	assert.NotEmpty(t, cards[0].Image)

	require.NoError(t, m.Release(s.ID))
	snap, err := st.Snapshot(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{fp: 3}, snap)
}

func TestSession_DemotedCardLeavesSideChannel(t *testing.T) {
	m := newManager(t, options(), nil)
	s, err := m.Alloc()
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Submit(ctx, cardFrame())
		require.NoError(t, err)
	}
	require.NotEmpty(t, s.Cards().Latest)

	r, err := s.Submit(ctx, blackFrame())
	require.NoError(t, err)
	assert.Empty(t, r.Confirmed)

	reply := s.Cards()
	assert.Empty(t, reply.Ids)
	assert.Empty(t, reply.Latest)
	assert.Empty(t, reply.Image)
}

func TestSession_StreamsAreIndependent(t *testing.T) {
	m := newManager(t, options(), nil)
	cards, err := m.Alloc()
	require.NoError(t, err)
	empty, err := m.Alloc()
	require.NoError(t, err)
	ctx := context.Background()

	const frames = 5
	var (
		wg      sync.WaitGroup
		replies [2][]Reply
		errs    [2]error
	)
	feed := func(i int, s *Session, frame func() gocv.Mat) {
		defer wg.Done()
		for f := 0; f < frames; f++ {
			r, err := s.Submit(ctx, frame())
			if err != nil {
				errs[i] = err
				return
			}
			replies[i] = append(replies[i], r)
		}
	}
	wg.Add(2)
	go feed(0, cards, cardFrame)
	go feed(1, empty, blackFrame)
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var confirmed []string
	for _, r := range replies[0] {
		for _, c := range r.Cards {
			confirmed = append(confirmed, c.Fingerprint)
		}
	}
	require.Len(t, confirmed, 1)
	for _, r := range replies[1] {
		assert.Empty(t, r.Cards)
		assert.Empty(t, r.Confirmed)
	}

	a, b := cards.Info(), empty.Info()
	assert.Equal(t, uint64(frames), a.Frames)
	assert.Equal(t, uint64(frames), b.Frames)
	assert.Equal(t, 1, a.Entries)
	assert.Equal(t, 0, b.Entries)

	assert.Equal(t, confirmed, cards.Cards().Ids)
	assert.Equal(t, confirmed[0], cards.Cards().Latest)
	assert.Empty(t, empty.Cards().Ids)
	assert.Empty(t, empty.Cards().Latest)
}
