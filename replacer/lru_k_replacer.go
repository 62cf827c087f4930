// Package replacer implements the LRU-K page replacement policy: the buffer
// pool's eviction-victim chooser.
package replacer

import "sync"

// frameInfo tracks one frame's bounded access history and evictable flag.
type frameInfo struct {
	// timestamps holds at most k entries, oldest first.
	timestamps []int64
	evictable  bool
}

// LRUK tracks per-frame access history and picks eviction victims by
// backward k-distance: now - (k-th most recent access), +Inf if fewer than
// k accesses have been recorded. Ties among infinite-distance frames are
// broken by the oldest recorded timestamp (classic LRU within the "cold"
// set). Grounded on original_source/ru_k_replacer_test/lru_k_replacer.cpp.
type LRUK struct {
	mu sync.Mutex

	numFrames int
	k         int

	frames        map[int]*frameInfo
	evictableSize int
	now           int64
}

// New creates a replacer tracking up to numFrames distinct frame ids, each
// keeping a history of at most k accesses.
func New(numFrames, k int) *LRUK {
	if numFrames <= 0 {
		panic("replacer: numFrames must be positive")
	}
	if k < 1 {
		panic("replacer: k must be at least 1")
	}
	return &LRUK{
		numFrames: numFrames,
		k:         k,
		frames:    make(map[int]*frameInfo),
	}
}

// RecordAccess appends the current timestamp to frame's history, truncating
// to the most recent k entries, then advances the monotonic clock. A frame
// seen for the first time starts non-evictable.
func (r *LRUK) RecordAccess(frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.frames[frame]
	if !ok {
		info = &frameInfo{}
		r.frames[frame] = info
	}
	info.timestamps = append(info.timestamps, r.now)
	if len(info.timestamps) > r.k {
		info.timestamps = info.timestamps[1:]
	}
	r.now++
}

// SetEvictable toggles whether frame may be chosen by Evict. A no-op for an
// untracked frame (one RecordAccess has never been called on) and idempotent
// when the flag does not change.
func (r *LRUK) SetEvictable(frame int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.frames[frame]
	if !ok {
		return
	}
	if info.evictable == evictable {
		return
	}
	info.evictable = evictable
	if evictable {
		r.evictableSize++
	} else {
		r.evictableSize--
	}
}

// Remove drops a tracked evictable frame from the replacer entirely. It is
// invalid to call on a non-evictable frame; a no-op on an untracked one.
func (r *LRUK) Remove(frame int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.frames[frame]
	if !ok {
		return
	}
	if !info.evictable {
		panic("replacer: cannot remove a non-evictable frame")
	}
	delete(r.frames, frame)
	r.evictableSize--
}

// Evict picks and removes the victim frame with the greatest backward
// k-distance, breaking ties by the oldest recorded timestamp. Returns
// (0, false) iff no evictable frame exists.
func (r *LRUK) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictableSize == 0 {
		return 0, false
	}

	const infinite = int64(-1) // sentinel: +Inf distance

	victim := -1
	var victimDistance int64 = -2 // less than any real or infinite marker
	var victimOldest int64

	for frame, info := range r.frames {
		if !info.evictable {
			continue
		}

		var distance int64
		if len(info.timestamps) < r.k {
			distance = infinite
		} else {
			kth := info.timestamps[len(info.timestamps)-r.k]
			distance = r.now - kth
		}
		oldest := info.timestamps[0]

		better := false
		switch {
		case victim == -1:
			better = true
		case distance == infinite && victimDistance != infinite:
			better = true
		case distance == infinite && victimDistance == infinite:
			better = oldest < victimOldest
		case distance != infinite && victimDistance != infinite:
			if distance > victimDistance {
				better = true
			} else if distance == victimDistance && oldest < victimOldest {
				better = true
			}
		}

		if better {
			victim = frame
			victimDistance = distance
			victimOldest = oldest
		}
	}

	if victim == -1 {
		return 0, false
	}
	delete(r.frames, victim)
	r.evictableSize--
	return victim, true
}

// Size returns the number of currently evictable tracked frames.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableSize
}
