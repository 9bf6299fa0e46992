package llm

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// defaultEmitThreshold releases the buffer once it holds a UI-sized chunk.
	defaultEmitThreshold = 100
	// defaultFlushDelay is how long a held fragment waits before a timed flush.
	defaultFlushDelay = 150 * time.Millisecond
	// defaultHardLimit is the safety valve against unbounded growth when a
	// provider never emits a natural break. Exceeding it clears the buffer:
	// accepted data loss, logged when it happens.
	defaultHardLimit = 10000
	// shortDeltaLen is the size below which a delta is held for batching.
	shortDeltaLen = 10
)

// markdownMarkers are the characters whose presence makes a delta worth
// emitting promptly so the UI can rerender formatting.
const markdownMarkers = "*_#>`[]"

// FragmentBufferOptions tunes the batching policy. The zero value selects
// the defaults.
type FragmentBufferOptions struct {
	EmitThreshold int
	FlushDelay    time.Duration
	HardLimit     int
}

func (o FragmentBufferOptions) withDefaults() FragmentBufferOptions {
	if o.EmitThreshold <= 0 {
		o.EmitThreshold = defaultEmitThreshold
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = defaultFlushDelay
	}
	if o.HardLimit <= 0 {
		o.HardLimit = defaultHardLimit
	}
	return o
}

// FragmentBuffer accumulates small text deltas and releases them as
// UI-friendly chunks: immediately on sentence breaks, newlines, markdown
// markers or a size threshold, otherwise after a short timed flush. It
// trades a little latency against unusably tiny UI updates.
//
// One buffer belongs to exactly one in-flight stream. The mutex exists only
// because the flush timer fires on its own goroutine; there is no
// cross-request sharing.
type FragmentBuffer struct {
	opts FragmentBufferOptions
	emit func(chunk string)
	log  *logrus.Logger

	mu      sync.Mutex
	buf     strings.Builder
	timer   *time.Timer
	stopped bool
}

// NewFragmentBuffer creates a buffer that delivers batched chunks to emit.
func NewFragmentBuffer(opts FragmentBufferOptions, emit func(chunk string), log *logrus.Logger) *FragmentBuffer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FragmentBuffer{opts: opts.withDefaults(), emit: emit, log: log}
}

// Add unescapes one raw delta, appends it and applies the release policy.
func (b *FragmentBuffer) Add(delta string) {
	if delta == "" {
		return
	}
	unescaped := Unescape(delta)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.buf.WriteString(unescaped)

	// Safety valve: a stream with no natural breaks must not grow the
	// buffer forever. Clearing loses the held text — log loudly.
	if b.buf.Len() > b.opts.HardLimit {
		b.log.WithField("droppedChars", b.buf.Len()).
			Warn("fragment buffer exceeded hard limit, clearing held text")
		b.buf.Reset()
		b.cancelTimerLocked()
		return
	}

	if b.shouldEmitNow(unescaped) {
		b.flushLocked()
		return
	}

	if len(unescaped) < shortDeltaLen || !strings.ContainsAny(unescaped, markdownMarkers) {
		b.scheduleFlushLocked()
		return
	}

	// Substantial delta carrying markdown — release promptly.
	b.flushLocked()
}

// shouldEmitNow checks the immediate release triggers in priority order:
// buffer size, sentence-terminal punctuation, newline.
func (b *FragmentBuffer) shouldEmitNow(delta string) bool {
	if b.buf.Len() >= b.opts.EmitThreshold {
		return true
	}
	if endsWithSentenceBreak(delta) {
		return true
	}
	return strings.ContainsRune(delta, '\n')
}

// endsWithSentenceBreak reports whether the delta ends in sentence-terminal
// punctuation, optionally followed by whitespace.
func endsWithSentenceBreak(delta string) bool {
	trimmed := strings.TrimRight(delta, " \t\r\n")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}

// Flush releases any held text immediately. Called on stream completion so
// no trailing text is silently dropped.
func (b *FragmentBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop cancels any pending timed flush and discards held text without
// emitting. Used on abort and error paths, where no further chunk callbacks
// may fire.
func (b *FragmentBuffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.cancelTimerLocked()
	b.buf.Reset()
}

// flushLocked emits the entire held buffer as one chunk and clears it.
// A new schedule must always cancel the prior timer first, otherwise a stale
// timed flush could reorder output.
func (b *FragmentBuffer) flushLocked() {
	b.cancelTimerLocked()
	if b.buf.Len() == 0 {
		return
	}
	chunk := b.buf.String()
	b.buf.Reset()
	b.emit(chunk)
}

func (b *FragmentBuffer) scheduleFlushLocked() {
	b.cancelTimerLocked()
	b.timer = time.AfterFunc(b.opts.FlushDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.stopped {
			return
		}
		b.flushLocked()
	})
}

func (b *FragmentBuffer) cancelTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
