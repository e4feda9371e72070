package call

import (
	"sort"
	"sync"

	"github.com/pion/rtp"
)

// streamTracker remembers which track kinds each remote stream has shown,
// so a track joining a known stream is reported as an update.
type streamTracker struct {
	mu    sync.Mutex
	kinds map[string]map[string]bool
}

func newStreamTracker() *streamTracker {
	return &streamTracker{kinds: make(map[string]map[string]bool)}
}

// add records a track of kind on streamID. ok is false when that kind was
// already known for the stream, meaning nothing new to surface.
func (t *streamTracker) add(streamID, kind string) (info StreamInfo, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, seen := t.kinds[streamID]
	if !seen {
		set = make(map[string]bool)
		t.kinds[streamID] = set
	}
	if set[kind] {
		return StreamInfo{}, false
	}
	set[kind] = true

	kinds := make([]string, 0, len(set))
	for k := range set {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return StreamInfo{ID: streamID, Kinds: kinds, Updated: seen}, true
}

func (t *streamTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.kinds)
}

// count folds one received packet into st. Sequence numbers wrap at 2^16;
// a jump of less than half the space is taken as forward.
func (st *TrackStats) count(pkt *rtp.Packet) {
	first := st.Packets == 0
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	if first {
		st.LastSeq = pkt.SequenceNumber
		return
	}

	d := pkt.SequenceNumber - st.LastSeq
	switch {
	case d == 0:
	case d < 0x8000:
		st.Lost += uint64(d - 1)
		st.LastSeq = pkt.SequenceNumber
	case st.Lost > 0:
		st.Lost--
	}
}
