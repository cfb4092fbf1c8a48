/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package sliceutils

// RemoveDuplicates removes any duplicate entries from a list, keeping the
// first occurrence of each and the original ordering.
func RemoveDuplicates[T comparable](in []T) []T {
	return RemoveDuplicatesFunc(in, func(v T) T { return v })
}

// RemoveDuplicatesFunc is like RemoveDuplicates but compares entries by the key
// returned from keyFn.
func RemoveDuplicatesFunc[T any, K comparable](in []T, keyFn func(T) K) []T {
	seen := make(map[K]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		key := keyFn(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
