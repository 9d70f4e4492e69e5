package watcher

import (
	"os"
	"sort"
	"time"
)

// ChangeKind is the kind of filesystem change a Notification reports.
type ChangeKind string

const (
	Add    ChangeKind = "add"
	Change ChangeKind = "change"
	Unlink ChangeKind = "unlink"
)

// fileState tracks a path from its first raw event until the notification is emitted.
type fileState int

const (
	stateUnstable fileState = iota
	stateStable
	stateEmitted
)

type pendingFile struct {
	kind     ChangeKind
	seq      uint64
	state    fileState
	size     int64
	modTime  time.Time
	lastSeen time.Time // last time size or mtime moved
}

// stabilizer holds back add/change notifications until a file's size and
// modification time have been unchanged for threshold. It is not safe for
// concurrent use; the watcher loop owns it.
type stabilizer struct {
	threshold time.Duration
	pending   map[string]*pendingFile
	seq       uint64
}

func newStabilizer(threshold time.Duration) *stabilizer {
	return &stabilizer{threshold: threshold, pending: make(map[string]*pendingFile)}
}

// observe records a raw event for path at now.
func (s *stabilizer) observe(path string, kind ChangeKind, now time.Time) {
	p, ok := s.pending[path]
	if !ok {
		s.seq++
		s.pending[path] = &pendingFile{kind: kind, seq: s.seq, size: -1, lastSeen: now}
		if kind == Unlink {
			s.pending[path].state = stateStable
		}
		return
	}
	switch {
	case kind == Unlink && p.kind == Add:
		// Created and removed before it ever settled: nothing to report.
		delete(s.pending, path)
		return
	case kind == Unlink:
		p.kind = Unlink
		p.state = stateStable
	case p.kind == Unlink:
		p.kind = Add
		p.state = stateUnstable
		p.size = -1
	case p.kind == Add:
		// A write right after create is still an add.
	default:
		p.kind = kind
	}
	if p.state == stateUnstable {
		p.lastSeen = now
	}
}

// forget drops any pending state for path.
func (s *stabilizer) forget(path string) {
	delete(s.pending, path)
}

// poll advances every pending path and returns the notifications that became
// ready, in the order their paths were first observed. stat is os.Stat in
// production; a stat failure drops the path (the next raw event re-arms it).
func (s *stabilizer) poll(now time.Time, stat func(string) (os.FileInfo, error)) []pendingReady {
	var ready []pendingReady
	for path, p := range s.pending {
		if p.state == stateUnstable {
			fi, err := stat(path)
			if err != nil || fi.IsDir() {
				delete(s.pending, path)
				continue
			}
			if fi.Size() != p.size || !fi.ModTime().Equal(p.modTime) {
				p.size = fi.Size()
				p.modTime = fi.ModTime()
				p.lastSeen = now
				continue
			}
			if now.Sub(p.lastSeen) < s.threshold {
				continue
			}
			p.state = stateStable
		}
		if p.state == stateStable {
			ready = append(ready, pendingReady{path: path, kind: p.kind, seq: p.seq})
			p.state = stateEmitted
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
	for _, r := range ready {
		delete(s.pending, r.path)
	}
	return ready
}

// pendingCount reports how many paths are still waiting.
func (s *stabilizer) pendingCount() int { return len(s.pending) }

type pendingReady struct {
	path string
	kind ChangeKind
	seq  uint64
}
