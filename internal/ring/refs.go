package ring

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-uring/internal/uapi"
)

// inflightRefs holds the buffers of published operations, keyed by
// user_data, until their completions are consumed. Operations sharing a
// tag keep every buffer under that tag until all of them complete.
//
// publish runs on the submitting goroutine and complete on the
// consuming one, so the table is locked; live lets complete skip the
// lock when nothing is held.
type inflightRefs struct {
	mu   sync.Mutex
	m    map[uint64]*refSet
	live atomic.Int32
}

type refSet struct {
	objs    []any
	pending int
}

// publish moves the reference recorded by the last Prep call on sqe into
// the table. It must run before the SQE becomes visible to the kernel.
func (t *inflightRefs) publish(sqe *uapi.SQE) {
	obj := uapi.TakeRef(sqe)
	if obj == nil && t.live.Load() == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.m[sqe.UserData]
	if obj == nil && set == nil {
		return
	}
	if set == nil {
		if t.m == nil {
			t.m = make(map[uint64]*refSet)
		}
		set = &refSet{}
		t.m[sqe.UserData] = set
		t.live.Add(1)
	}
	set.pending++
	if obj != nil {
		set.objs = append(set.objs, obj)
	}
}

// complete records one consumed completion for tag.
func (t *inflightRefs) complete(tag uint64) {
	if t.live.Load() == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.m[tag]
	if set == nil {
		return
	}
	if set.pending--; set.pending <= 0 {
		delete(t.m, tag)
		t.live.Add(-1)
	}
}

// held returns the number of tags with buffers still held.
func (t *inflightRefs) held() int {
	return int(t.live.Load())
}

func (t *inflightRefs) reset() {
	t.mu.Lock()
	t.m = nil
	t.live.Store(0)
	t.mu.Unlock()
}
