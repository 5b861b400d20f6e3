package engine

import "sync"

// docGates hands out one RWMutex per document. Writers hold it shared from
// persisting a node until the node is committed or discarded; reconciliation
// holds it exclusively, so it only ever sees nodes no live writer owns.
type docGates struct {
	mu    sync.Mutex
	gates map[string]*sync.RWMutex
}

func (g *docGates) get(documentID string) *sync.RWMutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = make(map[string]*sync.RWMutex)
	}
	gate, ok := g.gates[documentID]
	if !ok {
		gate = &sync.RWMutex{}
		g.gates[documentID] = gate
	}
	return gate
}
