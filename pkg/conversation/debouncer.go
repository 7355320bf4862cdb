// Package conversation drives the qualification dialogue: inbound intake
// with debouncing, the generation pipeline and fact application.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnKey identifies one debounce stream: one sender within one tenant.
type TurnKey struct {
	TenantID      uuid.UUID
	ChannelUserID int64
}

// pendingTurn is the per-key debounce state: the accumulated texts and the
// live timer. At most one pendingTurn exists per key.
type pendingTurn struct {
	texts    []string
	imageURL string
	caption  string
	isVoice  bool
	timer    *time.Timer
}

// Debouncer merges bursts of inbound events per sender into one logical
// turn. Each new event cancels and restarts the window timer; when the
// window elapses quietly the flush callback fires once with all texts.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[TurnKey]*pendingTurn
	flush   func(key TurnKey, turn BufferedTurn)
}

// BufferedTurn is the merged content of one debounce cycle.
type BufferedTurn struct {
	Texts    []string
	ImageURL string
	Caption  string
	IsVoice  bool
}

// NewDebouncer creates a Debouncer that calls flush after window of quiet.
func NewDebouncer(window time.Duration, flush func(key TurnKey, turn BufferedTurn)) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[TurnKey]*pendingTurn),
		flush:   flush,
	}
}

// Add buffers one inbound event and restarts the key's window.
func (d *Debouncer) Add(key TurnKey, text string, opts ...TurnOption) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		p = &pendingTurn{}
		d.pending[key] = p
	}

	if text != "" {
		p.texts = append(p.texts, text)
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d.window, func() { d.fire(key) })
}

// TurnOption annotates a buffered event.
type TurnOption func(*pendingTurn)

// WithImage attaches an image to the turn; the latest image wins.
func WithImage(url, caption string) TurnOption {
	return func(p *pendingTurn) {
		p.imageURL = url
		p.caption = caption
	}
}

// WithVoice marks the turn as containing transcribed speech.
func WithVoice() TurnOption {
	return func(p *pendingTurn) { p.isVoice = true }
}

// Flush fires a key's pending turn immediately, if any. Used in tests and
// on shutdown.
func (d *Debouncer) Flush(key TurnKey) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok && p.timer != nil {
		p.timer.Stop()
	}
	d.mu.Unlock()

	if ok {
		d.fire(key)
	}
}

// Pending reports whether a key has a buffered turn awaiting its window.
func (d *Debouncer) Pending(key TurnKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

func (d *Debouncer) fire(key TurnKey) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	d.flush(key, BufferedTurn{
		Texts:    p.texts,
		ImageURL: p.imageURL,
		Caption:  p.caption,
		IsVoice:  p.isVoice,
	})
}
