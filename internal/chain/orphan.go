package chain

import (
	"time"

	"github.com/co2chain/co2chain/pkg/block"
	"github.com/co2chain/co2chain/pkg/types"
)

// MaxOrphanBlocks bounds the number of blocks held with an unresolved
// parent. Beyond this, the oldest orphan is evicted to make room.
const MaxOrphanBlocks = 256

// OrphanExpiry bounds how long an orphan is kept without its parent
// arriving before it is dropped on the next sweep.
const OrphanExpiry = 20 * time.Minute

type orphanEntry struct {
	blk      *block.Block
	received time.Time
}

// orphanPool holds blocks whose parent is not yet known, keyed by the
// parent hash they are waiting on. When a block with that hash connects,
// ProcessBlock re-evaluates any orphans waiting on it.
type orphanPool struct {
	byParent map[types.Hash][]*orphanEntry
	count    int
}

func newOrphanPool() *orphanPool {
	return &orphanPool{byParent: make(map[types.Hash][]*orphanEntry)}
}

// Add stores an orphan block, evicting the oldest orphan if the pool is full.
func (p *orphanPool) Add(blk *block.Block) {
	p.sweep()
	if p.count >= MaxOrphanBlocks {
		p.evictOldest()
	}
	parent := blk.Header.PrevHash
	p.byParent[parent] = append(p.byParent[parent], &orphanEntry{blk: blk, received: time.Now()})
	p.count++
}

// Take removes and returns every orphan waiting on the given parent hash.
func (p *orphanPool) Take(parent types.Hash) []*block.Block {
	entries, ok := p.byParent[parent]
	if !ok {
		return nil
	}
	delete(p.byParent, parent)
	p.count -= len(entries)
	blocks := make([]*block.Block, len(entries))
	for i, e := range entries {
		blocks[i] = e.blk
	}
	return blocks
}

// Count returns the number of orphans currently held.
func (p *orphanPool) Count() int {
	return p.count
}

func (p *orphanPool) sweep() {
	cutoff := time.Now().Add(-OrphanExpiry)
	for parent, entries := range p.byParent {
		kept := entries[:0]
		for _, e := range entries {
			if e.received.After(cutoff) {
				kept = append(kept, e)
			} else {
				p.count--
			}
		}
		if len(kept) == 0 {
			delete(p.byParent, parent)
		} else {
			p.byParent[parent] = kept
		}
	}
}

func (p *orphanPool) evictOldest() {
	var oldestParent types.Hash
	var oldestIdx int
	var oldestTime time.Time
	found := false
	for parent, entries := range p.byParent {
		for i, e := range entries {
			if !found || e.received.Before(oldestTime) {
				found = true
				oldestParent = parent
				oldestIdx = i
				oldestTime = e.received
			}
		}
	}
	if !found {
		return
	}
	entries := p.byParent[oldestParent]
	entries = append(entries[:oldestIdx], entries[oldestIdx+1:]...)
	if len(entries) == 0 {
		delete(p.byParent, oldestParent)
	} else {
		p.byParent[oldestParent] = entries
	}
	p.count--
}
