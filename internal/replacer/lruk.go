// Package replacer implements LRU-K frame eviction for the buffer pool:
// frames with fewer than k historical accesses are evicted in plain FIFO
// order before any frame that has reached k accesses. Such mature frames
// are evicted in mature-queue order of the oldest of their last k
// accesses; a frame's history is appended at the back of that queue when
// it is promoted, so this follows k-th-most-recent access time only
// approximately.
package replacer

import (
	"container/list"
	"fmt"
	"sync"
)

type access struct {
	frameID int
	time    uint64
}

// LRUK tracks access history for up to size frames and picks an eviction
// victim among those marked evictable.
type LRUK struct {
	mu sync.Mutex

	k       int
	size    int
	currTime uint64

	counter   []int
	evictable []bool

	young  *list.List // access history, < k accesses
	mature *list.List // access history, >= k accesses, last k per frame, in append order
}

// New creates a replacer tracking up to size frames, promoting a frame
// out of FIFO-only eviction once it has been accessed k times.
func New(size int, k int) *LRUK {
	return &LRUK{
		k:         k,
		size:      size,
		counter:   make([]int, size),
		evictable: make([]bool, size),
		young:     list.New(),
		mature:    list.New(),
	}
}

func (r *LRUK) checkFrame(frameID int) {
	if frameID < 0 || frameID >= r.size {
		panic(fmt.Sprintf("replacer: frame id %d out of range [0,%d)", frameID, r.size))
	}
}

// RecordAccess registers one access to frameID, advancing its history and
// promoting it from the young queue to the mature queue the instant its
// access count reaches k.
func (r *LRUK) RecordAccess(frameID int) {
	r.checkFrame(frameID)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter[frameID]++
	if r.counter[frameID] == r.k {
		r.promote(frameID)
	}
	if r.counter[frameID] >= r.k {
		r.mature.PushBack(access{frameID: frameID, time: r.currTime})
		r.currTime++
		if r.counter[frameID] == r.k {
			return
		}
		r.counter[frameID] = r.k
		for e := r.mature.Front(); e != nil; e = e.Next() {
			if e.Value.(access).frameID == frameID {
				r.mature.Remove(e)
				return
			}
		}
		return
	}
	r.young.PushBack(access{frameID: frameID, time: r.currTime})
	r.currTime++
}

// promote moves frameID's young-queue entries into the mature queue,
// preserving relative access-time order.
func (r *LRUK) promote(frameID int) {
	var moved []access
	for e := r.young.Front(); e != nil; {
		next := e.Next()
		if e.Value.(access).frameID == frameID {
			moved = append(moved, e.Value.(access))
			r.young.Remove(e)
		}
		e = next
	}
	for _, a := range moved {
		r.mature.PushBack(a)
	}
}

// SetEvictable marks frameID as a candidate for Evict (or not). A pinned
// frame must be marked non-evictable by the caller.
func (r *LRUK) SetEvictable(frameID int, evictable bool) {
	r.checkFrame(frameID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictable[frameID] = evictable
}

// Evict picks a victim frame: the oldest evictable entry in the young
// queue if any exists, else the oldest evictable entry in the mature
// queue. It clears the victim's history and evictable flag.
func (r *LRUK) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, q := range []*list.List{r.young, r.mature} {
		for e := q.Front(); e != nil; e = e.Next() {
			frameID := e.Value.(access).frameID
			if !r.evictable[frameID] {
				continue
			}
			var next *list.Element
			for el := q.Front(); el != nil; el = next {
				next = el.Next()
				if el.Value.(access).frameID == frameID {
					q.Remove(el)
				}
			}
			r.counter[frameID] = 0
			r.evictable[frameID] = false
			return frameID, true
		}
	}
	return 0, false
}

// Remove drops all history for frameID without evicting it; used when a
// frame's page is deleted outright.
func (r *LRUK) Remove(frameID int) {
	r.checkFrame(frameID)
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.young
	if r.counter[frameID] >= r.k {
		q = r.mature
	}
	var next *list.Element
	for e := q.Front(); e != nil; e = next {
		next = e.Next()
		if e.Value.(access).frameID == frameID {
			q.Remove(e)
		}
	}
	r.counter[frameID] = 0
	r.evictable[frameID] = false
}

// Size returns the number of frames currently marked evictable.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.evictable {
		if e {
			n++
		}
	}
	return n
}
