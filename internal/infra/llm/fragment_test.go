package llm

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// chunkCollector records emitted chunks; safe for the timed-flush goroutine.
type chunkCollector struct {
	mu     sync.Mutex
	chunks []string
}

func (c *chunkCollector) emit(chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *chunkCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chunks...)
}

func newTestBuffer(opts FragmentBufferOptions) (*FragmentBuffer, *chunkCollector) {
	c := &chunkCollector{}
	return NewFragmentBuffer(opts, c.emit, testLogger()), c
}

func TestFragmentBuffer_BatchesShortDeltasUntilSentenceEnd(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{})
	b.Add("Hel")
	b.Add("lo,")
	b.Add(" world.")

	got := c.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly one chunk, got %d: %q", len(got), got)
	}
	if got[0] != "Hello, world." {
		t.Errorf("got %q, want %q", got[0], "Hello, world.")
	}
}

func TestFragmentBuffer_SentenceBreakWithTrailingSpace(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{})
	b.Add("Done. ")

	got := c.snapshot()
	if len(got) != 1 || got[0] != "Done. " {
		t.Errorf("trailing whitespace after punctuation should still release, got %q", got)
	}
}

func TestFragmentBuffer_NewlineReleasesImmediately(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{})
	b.Add("line one")
	b.Add("\nmore")

	got := c.snapshot()
	if len(got) != 1 || got[0] != "line one\nmore" {
		t.Errorf("got %q", got)
	}
}

func TestFragmentBuffer_ThresholdReleases(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{EmitThreshold: 10})
	b.Add("aaaa")
	if len(c.snapshot()) != 0 {
		t.Fatal("released below threshold")
	}
	b.Add("bbbbbbb")

	got := c.snapshot()
	if len(got) != 1 || got[0] != "aaaabbbbbbb" {
		t.Errorf("got %q", got)
	}
}

func TestFragmentBuffer_MarkdownInSubstantialDelta(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{})
	b.Add("some **bold** text")

	got := c.snapshot()
	if len(got) != 1 || got[0] != "some **bold** text" {
		t.Errorf("markdown-bearing delta should release promptly, got %q", got)
	}
}

func TestFragmentBuffer_ShortMarkdownDeltaIsHeld(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{FlushDelay: time.Hour})
	b.Add("**hi**")

	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("short delta must wait for batching even with markdown, got %q", got)
	}
	b.Flush()
	if got := c.snapshot(); len(got) != 1 || got[0] != "**hi**" {
		t.Errorf("got %q", got)
	}
}

func TestFragmentBuffer_TimedFlush(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{FlushDelay: 10 * time.Millisecond})
	b.Add("held")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) == 1 {
			if got[0] != "held" {
				t.Fatalf("got %q", got[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed flush never fired")
}

func TestFragmentBuffer_NewDeltaResetsTimer(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{FlushDelay: time.Hour})
	b.Add("one ")
	b.Add("two ")
	b.Add("three.")

	got := c.snapshot()
	if len(got) != 1 || got[0] != "one two three." {
		t.Errorf("stale timer must not split the batch, got %q", got)
	}
}

func TestFragmentBuffer_UnescapesDeltas(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{})
	b.Add(`first\nsecond`)

	got := c.snapshot()
	if len(got) != 1 || got[0] != "first\nsecond" {
		t.Errorf("got %q", got)
	}
}

func TestFragmentBuffer_HardLimitClearsBuffer(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{HardLimit: 20, FlushDelay: time.Hour})
	b.Add(strings.Repeat("a", 15))
	b.Add(strings.Repeat("b", 10))

	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("overflow must clear, not emit, got %q", got)
	}

	// The buffer stays usable after the valve trips.
	b.Add("after.")
	got := c.snapshot()
	if len(got) != 1 || got[0] != "after." {
		t.Errorf("got %q", got)
	}
}

func TestFragmentBuffer_FlushDrainsRemainder(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{FlushDelay: time.Hour})
	b.Add("no break")
	b.Flush()

	got := c.snapshot()
	if len(got) != 1 || got[0] != "no break" {
		t.Errorf("got %q", got)
	}
	// Flushing an empty buffer emits nothing.
	b.Flush()
	if got := c.snapshot(); len(got) != 1 {
		t.Errorf("empty flush emitted a chunk: %q", got)
	}
}

func TestFragmentBuffer_StopDiscardsWithoutEmitting(t *testing.T) {
	t.Parallel()

	b, c := newTestBuffer(FragmentBufferOptions{FlushDelay: 5 * time.Millisecond})
	b.Add("held")
	b.Stop()
	b.Add("after stop.")
	b.Flush()

	time.Sleep(50 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("nothing may be emitted after Stop, got %q", got)
	}
}
