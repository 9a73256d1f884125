package pipeline

import "sync"

// Engine callbacks fire on engine-owned threads and may outlive the
// pipeline that armed them. Instead of capturing the *Pipeline
// directly, every callback captures an opaque token and resolves it
// through this table on each invocation. Close unregisters the token
// before releasing anything, so a late callback resolves to nil and
// returns without touching a partially-destroyed pipeline.
var liveTable = struct {
	mu    sync.RWMutex
	next  uint64
	byTok map[uint64]*Pipeline
}{byTok: make(map[uint64]*Pipeline)}

func registerPipeline(p *Pipeline) uint64 {
	liveTable.mu.Lock()
	defer liveTable.mu.Unlock()
	liveTable.next++
	token := liveTable.next
	liveTable.byTok[token] = p
	return token
}

func lookupPipeline(token uint64) *Pipeline {
	liveTable.mu.RLock()
	defer liveTable.mu.RUnlock()
	return liveTable.byTok[token]
}

func unregisterPipeline(token uint64) {
	liveTable.mu.Lock()
	defer liveTable.mu.Unlock()
	delete(liveTable.byTok, token)
}
