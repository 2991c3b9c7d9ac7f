package uibridge

import (
	"sync"

	"github.com/pocketomega/pocket-omega/internal/wf/logging"
)

// LogStore is a bounded in-memory ring of captured log lines, queryable
// by offset/limit for LogReqPacket/LogRespPacket. Grounded on the
// original's get_log_manager_internal()/LogManager.get_logs(); Go's
// stdlib `log` package has no capture hook, so internal/wf/logging grew
// a small global sink (logging.SetSink) that LogStore registers itself
// against.
type LogStore struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
	next    int
}

// NewLogStore builds a LogStore holding at most max entries (oldest
// dropped first) and installs it as the process-wide logging sink.
func NewLogStore(max int) *LogStore {
	if max <= 0 {
		max = 2000
	}
	s := &LogStore{max: max}
	logging.SetSink(s.append)
	return s
}

func (s *LogStore) append(e logging.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := LogEntry{
		Index:      s.next,
		LoggerName: e.LoggerName,
		Level:      e.Level.String(),
		Message:    e.Message,
		Created:    e.Created,
	}
	s.next++
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
}

// Page returns up to limit entries starting at offset (by Index, not
// slice position — dropped entries simply aren't returned), plus the
// total entry count ever appended, matching _on_log_req_packet's
// pagination semantics.
func (s *LogStore) Page(offset int, limit *int) ([]LogEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.next
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit != nil {
		l := *limit
		if l < 0 {
			l = 0
		}
		if offset+l < end {
			end = offset + l
		}
	}

	var out []LogEntry
	for _, entry := range s.entries {
		if entry.Index >= offset && entry.Index < end {
			out = append(out, entry)
		}
	}
	return out, total
}
