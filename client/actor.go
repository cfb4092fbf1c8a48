/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package client

import (
	"context"
)

// roundTrip sends a message built around a fresh reply channel to an actor
// and waits for it to answer.  Reply channels are buffered so an actor never
// blocks on a caller which has gone away.
func roundTrip[M any, T any](
	ctx context.Context,
	inboxCh chan<- M,
	doneCh <-chan struct{},
	build func(replyCh chan T) M,
) (T, error) {
	var empty T

	replyCh := make(chan T, 1)
	select {
	case inboxCh <- build(replyCh):
	case <-doneCh:
		return empty, ErrActorUnavailable
	case <-ctx.Done():
		return empty, ctx.Err()
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return empty, ctx.Err()
	case <-doneCh:
		// the actor may have answered just before it exited
		select {
		case reply := <-replyCh:
			return reply, nil
		default:
			return empty, ErrActorUnavailable
		}
	}
}
