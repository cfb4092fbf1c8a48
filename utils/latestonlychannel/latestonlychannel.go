/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package latestonlychannel

import "sync"

// Wrap creates a channel pipe which never blocks its writer for longer than it
// takes to hand over a value.  There is no queue, a value which has not yet been
// read from the output is replaced by any newer value written to the input, so
// count(output) <= count(input).  Closing the input closes the output.
func Wrap[T any](inputCh <-chan T) <-chan T {
	outputCh := make(chan T)

	go func() {
		defer close(outputCh)

		var latest T

		// sendCh is nil whenever there is nothing pending, which disables the
		// send case in the select below.
		var sendCh chan<- T

		for {
			select {
			case v, ok := <-inputCh:
				if !ok {
					return
				}
				latest = v
				sendCh = outputCh
			case sendCh <- latest:
				sendCh = nil
			}
		}
	}()

	return outputCh
}

// Pipe owns both ends of a wrapped channel so that a producer with many
// consumers can close each one exactly once.
type Pipe[T any] struct {
	inputCh   chan T
	outputCh  <-chan T
	closeOnce sync.Once
}

func NewPipe[T any]() *Pipe[T] {
	inputCh := make(chan T)
	return &Pipe[T]{
		inputCh:  inputCh,
		outputCh: Wrap[T](inputCh),
	}
}

// Send must not be called after Close.
func (p *Pipe[T]) Send(v T) {
	p.inputCh <- v
}

func (p *Pipe[T]) Output() <-chan T {
	return p.outputCh
}

func (p *Pipe[T]) Close() {
	p.closeOnce.Do(func() {
		close(p.inputCh)
	})
}
