package session

import (
	"CardDetServer/engine"
	iface "CardDetServer/interface"
	"CardDetServer/logger"
	"CardDetServer/monitor"
	"CardDetServer/store"
	"CardDetServer/tracker"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var ErrClosed = errors.New("session closed")

const storeTimeout = 2 * time.Second

// Reply 单帧处理结果（已编码，可直接发送给客户端）
type Reply struct {
	// annotated frame as JPEG, nil when the frame was skipped
	Frame []byte
	// cards newly confirmed in this frame, images as base64 JPEG
	Cards []iface.Card
	// confirmed fingerprints after this frame
	Confirmed []string
	Skipped   bool
	Err       error
}

type job struct {
	frame gocv.Mat
	reply chan Reply
}

// Session 一路视频流：独占一个 Tracker，帧按提交顺序逐个处理
type Session struct {
	ID        string
	CreatedAt time.Time

	detector *engine.Detector
	tracker  *tracker.Tracker
	store    *store.Store
	handle   func(gocv.Mat) Reply

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu         sync.RWMutex
	state      int
	lastActive time.Time
	frames     uint64
	entries    int
	dropped    uint64
	confirmed  []string
	latest     iface.Card
	onClose    []func()
	closed     bool
}

// Info is the externally visible state of a session.
type Info struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Frames     uint64    `json:"frames"`
	Entries    int       `json:"entries"`
	Dropped    uint64    `json:"dropped"`
	Confirmed  []string  `json:"confirmed"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

func newSession(id string, d *engine.Detector, tr *tracker.Tracker, st *store.Store) *Session {
	now := time.Now()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		detector:   d,
		tracker:    tr,
		store:      st,
		jobs:       make(chan job),
		done:       make(chan struct{}),
		state:      engine.IDLE,
		lastActive: now,
		confirmed:  []string{},
	}
	s.handle = s.process
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case j := <-s.jobs:
			j.reply <- s.safeProcess(j.frame)
		}
	}
}

func (s *Session) safeProcess(frame gocv.Mat) (r Reply) {
	defer func() {
		_ = frame.Close()
		if p := recover(); p != nil {
			logger.ForSession(s.ID).Error("frame panic recovered", zap.Any("panic", p))
			r = Reply{Err: fmt.Errorf("frame processing panic: %v", p)}
		}
		s.setState(engine.IDLE)
	}()
	s.setState(engine.BUSY)
	return s.handle(frame)
}

func (s *Session) setState(state int) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) process(frame gocv.Mat) Reply {
	start := time.Now()
	res := s.detector.Process(frame, s.tracker)
	defer res.Close()

	reply := Reply{Skipped: res.Skipped}
	if !res.Skipped {
		data, err := engine.EncodeJPEG(res.Annotated)
		if err != nil {
			logger.ForSession(s.ID).Warn("encode annotated frame failed", zap.Error(err))
		}
		reply.Frame = data
	}

	for _, c := range res.Cards {
		var img []byte
		if !c.Image.Empty() {
			var err error
			if img, err = engine.EncodeJPEG(c.Image); err != nil {
				logger.ForSession(s.ID).Warn("encode card failed", zap.String("fingerprint", c.Fingerprint), zap.Error(err))
			}
		}
		card := iface.Card{Fingerprint: c.Fingerprint, Confidence: c.Confidence}
		if len(img) > 0 {
			card.Image = base64.StdEncoding.EncodeToString(img)
		}
		reply.Cards = append(reply.Cards, card)
		s.record(c.Fingerprint, c.Confidence, img)
		logger.ForSession(s.ID).Info("card confirmed", zap.String("fingerprint", c.Fingerprint), zap.Float64("confidence", c.Confidence))
	}
	reply.Confirmed = s.tracker.Confirmed()

	s.mu.Lock()
	s.lastActive = time.Now()
	s.frames = s.tracker.Frames()
	s.entries = s.tracker.Len()
	s.dropped = s.tracker.Dropped()
	s.confirmed = slices.Clone(reply.Confirmed)
	for _, card := range reply.Cards {
		if card.Image != "" {
			s.latest = card
		}
	}
	if s.latest.Fingerprint != "" && !slices.Contains(reply.Confirmed, s.latest.Fingerprint) {
		// demoted or evicted cards are no longer served by the side channel
		s.latest = iface.Card{}
	}
	s.mu.Unlock()

	monitor.ObserveFrame(res.Skipped, len(res.Detections), len(res.Cards), time.Since(start))
	if !res.Skipped {
		logger.ForSession(s.ID).Debug("frame processed", zap.Int("detections", len(res.Detections)), zap.Int("confirmed", len(reply.Confirmed)))
	}
	return reply
}

func (s *Session) record(fingerprint string, confidence float64, img []byte) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := s.store.RecordConfirmation(ctx, store.CardRecord{
		SessionID:   s.ID,
		Fingerprint: fingerprint,
		Confidence:  confidence,
		Image:       img,
	})
	if err != nil {
		logger.ForSession(s.ID).Error("record confirmation failed", zap.Error(err))
	}
}

// Submit 提交一帧并等待处理结果。Submit 接管 frame 的所有权
func (s *Session) Submit(ctx context.Context, frame gocv.Mat) (Reply, error) {
	j := job{frame: frame, reply: make(chan Reply, 1)}
	select {
	case s.jobs <- j:
	case <-s.done:
		_ = frame.Close()
		return Reply{}, ErrClosed
	case <-ctx.Done():
		_ = frame.Close()
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-j.reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Cards 旁路查询：当前确认的指纹以及最近一次新确认卡片的图像。
// 结果与最近一次完成的帧一致，不会阻塞帧处理。
func (s *Session) Cards() iface.CardsReply {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return iface.CardsReply{
		Ids:    slices.Clone(s.confirmed),
		Latest: s.latest.Fingerprint,
		Image:  s.latest.Image,
	}
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := "idle"
	if s.state == engine.BUSY {
		state = "busy"
	}
	return Info{
		ID:         s.ID,
		State:      state,
		Frames:     s.frames,
		Entries:    s.entries,
		Dropped:    s.dropped,
		Confirmed:  slices.Clone(s.confirmed),
		CreatedAt:  s.CreatedAt,
		LastActive: s.lastActive,
	}
}

// OnClose registers fn to run once when the session closes. On a closed
// session fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the worker, saves the final confidences and discards the
// tracker state. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		if s.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := s.store.SaveSnapshot(ctx, s.ID, s.tracker.Snapshot()); err != nil {
				logger.ForSession(s.ID).Error("save snapshot failed", zap.Error(err))
			}
			cancel()
		}
		s.tracker = tracker.New(s.tracker.Config)

		s.mu.Lock()
		s.closed = true
		hooks := s.onClose
		s.onClose = nil
		s.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}
