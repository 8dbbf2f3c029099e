package search

import "github.com/poiesic/baler/core"

// RecommendMonitor provides hooks to observe a recommendation.
// Implement this interface to trace retrieval and streaming.
type RecommendMonitor interface {
	Start(query string)
	AfterSearch(excerpts []core.Metadata)
	AfterRerank(excerpts []core.Metadata)
	NoMatch()
	StreamOpened()
}

// noopMonitor is a no-op implementation of RecommendMonitor
type noopMonitor struct{}

var _ RecommendMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                {}
func (n *noopMonitor) AfterSearch(_ []core.Metadata) {}
func (n *noopMonitor) AfterRerank(_ []core.Metadata) {}
func (n *noopMonitor) NoMatch()                      {}
func (n *noopMonitor) StreamOpened()                 {}
