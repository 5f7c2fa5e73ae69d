package lockmgr

// wouldDeadlock decides whether thread, having just enqueued as a waiter
// for mode on tag, is part of a cycle in the waits-for graph. It is
// called by the waiting goroutine itself immediately after enqueueing,
// not by a periodic background scanner: the REDESIGN decision behind
// this package is that per-sleep detection catches a cycle before any
// other participant in it can make further progress, where a fixed-
// interval scan can let every member of a cycle sit blocked for up to a
// full scan period first.
func (t *Table) wouldDeadlock(tag Tag, thread ThreadID, mode Mode) bool {
	graph := t.snapshotWaitsFor()

	visited := map[ThreadID]bool{thread: true}
	var dfs func(node ThreadID, depth int) bool
	dfs = func(node ThreadID, depth int) bool {
		if depth > t.detectDepth {
			return false
		}
		for _, next := range graph[node] {
			if next == thread {
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if dfs(next, depth+1) {
				return true
			}
		}
		return false
	}
	return dfs(thread, 0)
}

// snapshotWaitsFor rebuilds the waits-for graph from every partition's
// lock entries: an edge from waiter W to thread H means W cannot be
// granted until H gives up or is granted first. Partitions are visited
// in a fixed index order and each entry's mutex is held only while its
// own edges are read, so this is not a single atomic snapshot of the
// whole table — an acceptable approximation here, since a spurious edge
// can at worst cause one extra false-positive deadlock report that a
// retry resolves, never a missed real cycle from the perspective of the
// calling thread (its own enqueue already happened-before this scan).
func (t *Table) snapshotWaitsFor() map[ThreadID][]ThreadID {
	graph := make(map[ThreadID][]ThreadID)

	for _, p := range t.partitions {
		p.mu.Lock()
		entries := make([]*lockEntry, 0, len(p.locks))
		for _, e := range p.locks {
			entries = append(entries, e)
		}
		p.mu.Unlock()

		for _, e := range entries {
			e.mu.Lock()
			for i, w := range e.queue {
				for holder, counts := range e.holders {
					if holder == w.thread {
						continue
					}
					if conflictsWithAny(w.mode, counts) {
						graph[w.thread] = append(graph[w.thread], holder)
					}
				}
				for j := 0; j < i; j++ {
					earlier := e.queue[j]
					if earlier.thread == w.thread {
						continue
					}
					if Conflicts(earlier.mode, w.mode) || Conflicts(w.mode, earlier.mode) {
						graph[w.thread] = append(graph[w.thread], earlier.thread)
					}
				}
			}
			e.mu.Unlock()
		}
	}

	return graph
}

func conflictsWithAny(want Mode, counts *[numModes]int32) bool {
	cm := conflictMask(want)
	for m := Mode(0); m < numModes; m++ {
		if counts[m] > 0 && cm&(1<<uint(m)) != 0 {
			return true
		}
	}
	return false
}
