package persist

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/logging"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
)

var log = logging.New("persist")

// ChangedListener is notified (by execution id) whenever NotifyChanged
// marks an execution dirty.
type ChangedListener func(executionID string)

// StateManager is the interface the runner/manager hold a reference to;
// NullStateManager satisfies it as a no-op for tests and CLI uses that
// don't want on-disk state.
type StateManager interface {
	Subscribe(ChangedListener)
	Track(execution *state.WorkflowExecution)
	NotifyChanged(execution *state.WorkflowExecution)
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NullStateManager discards everything; the default when no base path is
// configured.
type NullStateManager struct{}

func (NullStateManager) Subscribe(ChangedListener)             {}
func (NullStateManager) Track(*state.WorkflowExecution)        {}
func (NullStateManager) NotifyChanged(*state.WorkflowExecution) {}
func (NullStateManager) Start(context.Context) error            { return nil }
func (NullStateManager) Shutdown(context.Context) error         { return nil }

const (
	defaultSaveInterval     = 120 * time.Second
	defaultMaxTotalLogBytes = 1024 * 1024 * 1024
	sessionsDirName         = "sessions"
	stateDirName            = ".pocket-omega"
)

var seqPattern = regexp.MustCompile(`^\d+$`)

// Options configures a WorkflowStateManager.
type Options struct {
	BasePath         string
	SessionID        string
	SaveInterval     time.Duration // defaults to 120s
	MaxTotalLogBytes int64         // 0 defaults to 1GiB; <0 disables retention
}

// WorkflowStateManager periodically flushes dirty WorkflowExecutions to
// gzip-JSON files under <base>/.pocket-omega/sessions/<session-dir>/, and
// prunes the oldest non-current session directories once the sessions
// root exceeds a byte budget.
//
// Grounded on persistence/state_manager.py's WorkflowStateManager: dirty
// set + ticker flush + mtime-ordered retention deletion.
type WorkflowStateManager struct {
	basePath         string
	sessionID        string
	saveInterval     time.Duration
	maxTotalLogBytes int64
	datePrefix       string

	mu            sync.Mutex
	sessionDirName string
	executions    map[string]*state.WorkflowExecution
	dirty         map[string]struct{}
	listeners     []ChangedListener

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorkflowStateManager constructs a manager; call Start to begin the
// periodic flush loop.
func NewWorkflowStateManager(opts Options) *WorkflowStateManager {
	interval := opts.SaveInterval
	if interval <= 0 {
		interval = defaultSaveInterval
	}
	maxBytes := opts.MaxTotalLogBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxTotalLogBytes
	}
	return &WorkflowStateManager{
		basePath:         opts.BasePath,
		sessionID:        opts.SessionID,
		saveInterval:     interval,
		maxTotalLogBytes: maxBytes,
		datePrefix:       time.Now().Format("2006_01_02"),
		executions:       make(map[string]*state.WorkflowExecution),
		dirty:            make(map[string]struct{}),
	}
}

// SessionsRoot is <base>/.pocket-omega/sessions.
func (m *WorkflowStateManager) SessionsRoot() string {
	return filepath.Join(m.basePath, stateDirName, sessionsDirName)
}

// SessionDir is the directory this manager's session writes into,
// computed (and cached) on first use.
func (m *WorkflowStateManager) SessionDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionDirLocked()
}

func (m *WorkflowStateManager) sessionDirLocked() string {
	if m.sessionDirName == "" {
		m.sessionDirName = m.computeSessionDirName()
	}
	return filepath.Join(m.SessionsRoot(), m.sessionDirName)
}

func (m *WorkflowStateManager) computeSessionDirName() string {
	root := m.SessionsRoot()
	entries, err := os.ReadDir(root)
	seq := 1
	if err == nil {
		prefix := m.datePrefix + "_"
		highest := 0
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
				continue
			}
			rest := e.Name()[len(prefix):]
			idx := strings.Index(rest, "_")
			if idx < 0 {
				continue
			}
			seqStr := rest[:idx]
			if !seqPattern.MatchString(seqStr) {
				continue
			}
			if n, convErr := strconv.Atoi(seqStr); convErr == nil && n > highest {
				highest = n
			}
		}
		seq = highest + 1
	}
	return m.datePrefix + "_" + strconv.Itoa(seq) + "_" + m.sessionID
}

func sessionSizeBytes(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func (m *WorkflowStateManager) enforceRetention() {
	if m.maxTotalLogBytes <= 0 {
		return
	}
	root := m.SessionsRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	type session struct {
		modTime time.Time
		name    string
		size    int64
	}
	var sessions []session
	var total int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		size := sessionSizeBytes(filepath.Join(root, e.Name()))
		total += size
		sessions = append(sessions, session{modTime: info.ModTime(), name: e.Name(), size: size})
	}
	if total <= m.maxTotalLogBytes {
		return
	}

	m.mu.Lock()
	current := m.sessionDirName
	m.mu.Unlock()

	var candidates []session
	for _, s := range sessions {
		if s.name != current {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.Before(candidates[j].modTime) })

	for _, c := range candidates {
		if total <= m.maxTotalLogBytes {
			return
		}
		if err := os.RemoveAll(filepath.Join(root, c.name)); err != nil {
			log.Warning("failed to delete old session %s: %v", c.name, err)
			continue
		}
		total -= c.size
	}

	if total > m.maxTotalLogBytes {
		log.Warning("session log retention limit exceeded: %d bytes over %d byte limit", total-m.maxTotalLogBytes, m.maxTotalLogBytes)
	}
}

// Subscribe registers a listener invoked (synchronously, best-effort) on
// every NotifyChanged call.
func (m *WorkflowStateManager) Subscribe(listener ChangedListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Track registers an execution for future flushing, without marking it
// dirty.
func (m *WorkflowStateManager) Track(execution *state.WorkflowExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[execution.ID] = execution
}

// NotifyChanged marks an execution dirty (it will be written on the next
// flush) and fires every subscribed listener.
func (m *WorkflowStateManager) NotifyChanged(execution *state.WorkflowExecution) {
	m.mu.Lock()
	m.executions[execution.ID] = execution
	m.dirty[execution.ID] = struct{}{}
	listeners := append([]ChangedListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(execution.ID)
	}
}

func (m *WorkflowStateManager) pathFor(executionID string) string {
	return filepath.Join(m.SessionDir(), executionID+".json.gz")
}

// Start creates the session directory, prunes old sessions, and launches
// the periodic flush loop. Safe to call more than once; subsequent calls
// are no-ops while already running.
func (m *WorkflowStateManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	dir := m.sessionDirLocked()
	m.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	m.enforceRetention()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.loop(loopCtx, done)
	return nil
}

func (m *WorkflowStateManager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.FlushDirty()
		}
	}
}

// Shutdown stops the flush loop and performs one final flush of
// everything tracked.
func (m *WorkflowStateManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
	}
	m.FlushAll()
	return nil
}

// FlushDirty writes every execution currently marked dirty, then clears
// the dirty set.
func (m *WorkflowStateManager) FlushDirty() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	m.dirty = make(map[string]struct{})
	m.mu.Unlock()

	m.flushIDs(ids)
}

// FlushAll writes every tracked execution regardless of dirty state.
func (m *WorkflowStateManager) FlushAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.executions))
	for id := range m.executions {
		ids = append(ids, id)
	}
	m.dirty = make(map[string]struct{})
	m.mu.Unlock()

	m.flushIDs(ids)
}

func (m *WorkflowStateManager) flushIDs(ids []string) {
	if len(ids) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		m.mu.Lock()
		execution := m.executions[id]
		m.mu.Unlock()
		if execution == nil {
			continue
		}
		wg.Add(1)
		go func(execution *state.WorkflowExecution) {
			defer wg.Done()
			path := m.pathFor(execution.ID)
			if err := SaveToPath(path, execution); err != nil {
				log.Warning("failed to save execution %s: %v", execution.ID, err)
			}
		}(execution)
	}
	wg.Wait()
	m.enforceRetention()
}
