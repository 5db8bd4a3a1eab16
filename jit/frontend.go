package jit

import (
	"container/list"
	"io"
	"log"

	"github.com/google/uuid"
	"github.com/wudi/dashvm/bytecode"
)

// Config tunes the frontend.
type Config struct {
	// HotLoopThreshold is the backedge count a loop header must exceed
	// before a trace is recorded.
	HotLoopThreshold int
	// CacheCapacity bounds the compiled-trace cache; least recently
	// dispatched entries are evicted.
	CacheCapacity int
	// LogWriter receives compile/poison diagnostics; nil silences them.
	LogWriter io.Writer
}

func DefaultConfig() Config {
	return Config{HotLoopThreshold: 5, CacheCapacity: 128}
}

// Stats exposes the internal counters tests and diagnostics observe.
type Stats struct {
	TracesCompiled int
	PoisonedIPs    int
	CacheHits      int
	Dispatches     int
	Evictions      int
}

// Trace is the in-progress recording: the loop region being observed and
// the branch decisions taken while traversing it once.
type Trace struct {
	Origin      *bytecode.CompiledFunction
	Start, End  int
	BranchTaken []bool
}

// CompiledTrace is a cache entry: the backend's entry point plus the type
// snapshot the dispatch guard revalidates on every entry.
type CompiledTrace struct {
	Start, End int
	LocalTys   map[int]Type
	Entry      JitFunction
}

type traceKey struct {
	fn    *bytecode.CompiledFunction
	start int
}

type cacheEntry struct {
	key      traceKey
	compiled *CompiledTrace
}

// Frontend owns the trace lifecycle: detect, record, compile on closing
// backedge, dispatch. One Frontend per VM, mutated only from the
// interpreter thread.
type Frontend struct {
	cfg     Config
	backend Backend
	logger  *log.Logger

	cache    map[traceKey]*list.Element
	lru      *list.List // of *cacheEntry, front = most recent
	poisoned map[traceKey]struct{}

	recording *Trace
	stats     Stats

	// generation tags this frontend's lifetime in diagnostics, so logs
	// from interleaved VM instances stay attributable.
	generation string
}

func NewFrontend(cfg Config, backend Backend) *Frontend {
	if cfg.HotLoopThreshold <= 0 {
		cfg.HotLoopThreshold = DefaultConfig().HotLoopThreshold
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultConfig().CacheCapacity
	}
	logWriter := cfg.LogWriter
	if logWriter == nil {
		logWriter = io.Discard
	}
	return &Frontend{
		cfg:        cfg,
		backend:    backend,
		logger:     log.New(logWriter, "jit: ", 0),
		cache:      make(map[traceKey]*list.Element),
		lru:        list.New(),
		poisoned:   make(map[traceKey]struct{}),
		generation: uuid.NewString(),
	}
}

func (f *Frontend) HotLoopThreshold() int { return f.cfg.HotLoopThreshold }
func (f *Frontend) Stats() Stats          { return f.stats }
func (f *Frontend) Generation() string    { return f.generation }

// Compiled returns the cache entry for (fn, headerIP), refreshing its LRU
// position, or nil.
func (f *Frontend) Compiled(fn *bytecode.CompiledFunction, headerIP int) *CompiledTrace {
	elem, ok := f.cache[traceKey{fn, headerIP}]
	if !ok {
		return nil
	}
	f.lru.MoveToFront(elem)
	f.stats.CacheHits++
	return elem.Value.(*cacheEntry).compiled
}

// CountDispatch records one compiled-trace execution.
func (f *Frontend) CountDispatch() { f.stats.Dispatches++ }

// Poisoned reports whether (fn, headerIP) failed compilation before and
// must never be retraced. Poisoning is per function per IP, never
// global.
func (f *Frontend) Poisoned(fn *bytecode.CompiledFunction, headerIP int) bool {
	_, ok := f.poisoned[traceKey{fn, headerIP}]
	return ok
}

// RecordingFor returns the active recording if it belongs to fn.
func (f *Frontend) RecordingFor(fn *bytecode.CompiledFunction) *Trace {
	if f.recording != nil && f.recording.Origin == fn {
		return f.recording
	}
	return nil
}

// StartRecording installs (fn, start, end) as the currently recording
// trace; a recording already in progress is kept (one at a time).
func (f *Frontend) StartRecording(fn *bytecode.CompiledFunction, start, end int) {
	if f.recording != nil {
		return
	}
	f.recording = &Trace{Origin: fn, Start: start, End: end}
}

// ObserveBranch appends one conditional-branch decision to the recording.
func (f *Frontend) ObserveBranch(taken bool) {
	if f.recording != nil {
		f.recording.BranchTaken = append(f.recording.BranchTaken, taken)
	}
}

// AbandonRecording drops the current recording without poisoning.
func (f *Frontend) AbandonRecording() { f.recording = nil }

// FinishRecording is called on the closing backedge: slice the region,
// infer, lower, compile, install. On failure the header is poisoned and
// nil returned.
func (f *Frontend) FinishRecording(q *Query) *CompiledTrace {
	t := f.recording
	f.recording = nil
	if t == nil {
		return nil
	}
	key := traceKey{t.Origin, t.Start}
	if elem, ok := f.cache[key]; ok {
		return elem.Value.(*cacheEntry).compiled
	}

	code := t.Origin.Buffer[t.Start:t.End]
	q.Branches = t.BranchTaken
	cfg, err := f.backend.Lower(code, q)
	if err != nil {
		f.poison(key, err)
		return nil
	}
	entry, err := f.backend.CompileTypedCFG(code, cfg, q)
	if err != nil {
		f.poison(key, err)
		return nil
	}

	compiled := &CompiledTrace{Start: t.Start, End: t.End, LocalTys: cfg.Infer.LocalTys, Entry: entry}
	f.install(key, compiled)
	f.stats.TracesCompiled++
	f.logger.Printf("gen %s: compiled trace fn=%p start=%d end=%d branches=%d", f.generation, key.fn, t.Start, t.End, len(t.BranchTaken))
	return compiled
}

func (f *Frontend) poison(key traceKey, err error) {
	f.poisoned[key] = struct{}{}
	f.stats.PoisonedIPs++
	f.logger.Printf("gen %s: poisoned fn=%p ip=%d: %v", f.generation, key.fn, key.start, err)
}

func (f *Frontend) install(key traceKey, c *CompiledTrace) {
	elem := f.lru.PushFront(&cacheEntry{key: key, compiled: c})
	f.cache[key] = elem
	for f.lru.Len() > f.cfg.CacheCapacity {
		oldest := f.lru.Back()
		f.lru.Remove(oldest)
		delete(f.cache, oldest.Value.(*cacheEntry).key)
		f.stats.Evictions++
	}
}
