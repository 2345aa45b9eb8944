// Package engine adapts automerge documents to the core.Engine contract.
package engine

import (
	"boardsync/core"
	"fmt"

	"github.com/automerge/automerge-go"
)

type automergeEngine struct {
	doc *automerge.Doc
}

// Automerge builds engines backed by automerge documents. Deltas are the byte
// form produced by Doc.SaveIncremental and full states the form produced by
// Doc.Save; both are accepted by Apply.
type Automerge struct{}

func (Automerge) New() core.Engine {
	return &automergeEngine{doc: automerge.New()}
}

func (e *automergeEngine) Apply(delta []byte) error {
	if len(delta) == 0 {
		return nil
	}
	if err := e.doc.LoadIncremental(delta); err != nil {
		return fmt.Errorf("failed to apply delta: %w", err)
	}
	return nil
}

func (e *automergeEngine) FullState() []byte {
	return e.doc.Save()
}

// RecentDelta returns the changes made since the previous call. It is not part
// of core.Engine because rooms relay client deltas verbatim.
func (e *automergeEngine) RecentDelta() []byte {
	return e.doc.SaveIncremental()
}
