// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package pathtree folds a recursive attribute tree down to a flat set
// of dotted-path leaves, and rebuilds a tree from such a flat set. The
// resource CRDT stores eventstamps against the flat form (so that a
// subtree can be replaced by a scalar, or vice versa, without raising a
// structural conflict) while presenting attributes to callers as the
// nested tree they expect.
package pathtree

import (
	"sort"
	"strings"
)

// Walk visits every leaf of tree and calls visit with its dotted path
// and value. A leaf is any value that is not a map[string]any;
// in particular, slices/arrays are treated as atomic leaves, never
// descended into. An empty map[string]any at some path produces no
// leaf at all, matching the rule that only leaves carry eventstamps.
func Walk(tree map[string]any, visit func(path string, value any)) {
	walk("", tree, visit)
}

func walk(prefix string, tree map[string]any, visit func(path string, value any)) {
	for key, value := range tree {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if sub, ok := value.(map[string]any); ok {
			walk(path, sub, visit)
			continue
		}
		visit(path, value)
	}
}

// Build materializes a tree from a flat map of dotted paths to leaf
// values. Intermediate segments are created as map[string]any nodes as
// needed. When no path in leaves is an ancestor of another, Build is
// a deterministic fold: the same input always produces the same tree,
// regardless of map iteration order. Build does not resolve
// ancestor/descendant pairs itself; if both are present, which one
// ends up in the tree depends on map iteration order, so callers
// filter such pairs out first (see ResolvePrefixConflicts).
func Build(leaves map[string]any) map[string]any {
	root := make(map[string]any)
	for path, value := range leaves {
		segments := Split(path)
		node := root
		for i, seg := range segments {
			if i == len(segments)-1 {
				node[seg] = value
				break
			}
			next, ok := node[seg].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[seg] = next
			}
			node = next
		}
	}
	return root
}

// ResolvePrefixConflicts decides, for a set of dotted paths that may
// include ancestor/descendant pairs (e.g. "profile.personal" and
// "profile.personal.name"), which ones Build should materialize as a
// leaf. A tree can't hold both a scalar at a path and a subtree below
// it, so for every such pair exactly one side must be dropped; greater
// reports whether path a should win over path b. Ties are broken
// toward the more specific (longer) path, so the result is still
// deterministic when two conflicting paths carry equal rank.
//
// Paths with no ancestor/descendant relationship to any other path
// are always accepted. The result is independent of the order paths
// are given in, which is what makes it safe to drive off of Go's
// randomized map iteration.
func ResolvePrefixConflicts(paths []string, greater func(a, b string) bool) map[string]bool {
	accepted := make(map[string]bool, len(paths))
	for _, p := range paths {
		accepted[p] = true
	}
	for _, p := range paths {
		for _, q := range paths {
			if p == q || !isAncestorPath(p, q) {
				continue
			}
			switch {
			case greater(p, q):
				accepted[q] = false
			case greater(q, p):
				accepted[p] = false
			case len(p) < len(q):
				accepted[p] = false
			default:
				accepted[q] = false
			}
		}
	}
	return accepted
}

// isAncestorPath reports whether p addresses an ancestor node of the
// leaf q, i.e. q is nested somewhere underneath p.
func isAncestorPath(p, q string) bool {
	return len(p) < len(q) && strings.HasPrefix(q, p) && q[len(p)] == '.'
}

// Split breaks a dotted path into its segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}
	segments = append(segments, path[start:])
	return segments
}

// SortedPaths returns the keys of leaves in ascending order, useful
// wherever deterministic iteration over a flat path set matters (e.g.
// tests that assert on a rebuilt tree's shape).
func SortedPaths(leaves map[string]any) []string {
	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
