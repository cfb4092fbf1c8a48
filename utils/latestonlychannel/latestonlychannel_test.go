package latestonlychannel

import (
	"testing"
	"time"
)

func TestWrap_EmptyBlocks(t *testing.T) {
	inputCh := make(chan int)
	outputCh := Wrap(inputCh)

	select {
	case <-outputCh:
		t.Fatalf("should have blocked")
	case <-time.After(10 * time.Millisecond):
	}

	close(inputCh)
}

func TestWrap_KeepsOnlyLatest(t *testing.T) {
	inputCh := make(chan int)
	outputCh := Wrap(inputCh)

	// the writes below do not need a reader, the pipe behaves like a
	// 1-length buffer which overwrites its contents.
	inputCh <- 1
	inputCh <- 2
	inputCh <- 3
	if v := <-outputCh; v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}

	inputCh <- 4
	if v := <-outputCh; v != 4 {
		t.Fatalf("expected 4, got %d", v)
	}

	select {
	case v := <-outputCh:
		t.Fatalf("unexpected extra value %d", v)
	case <-time.After(10 * time.Millisecond):
	}

	close(inputCh)

	if _, ok := <-outputCh; ok {
		t.Fatalf("output channel was not closed")
	}
}

func TestPipe_CloseTwice(t *testing.T) {
	p := NewPipe[string]()

	p.Send("a")
	p.Send("b")
	if v := <-p.Output(); v != "b" {
		t.Fatalf("expected b, got %s", v)
	}

	p.Close()
	p.Close()

	if _, ok := <-p.Output(); ok {
		t.Fatalf("output channel was not closed")
	}
}
