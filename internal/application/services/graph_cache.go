package services

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
)

// DefaultGraphTTL bounds how long an unused graph stays cached
const DefaultGraphTTL = 30 * time.Minute

// GraphCache keeps the stages and transitions of a definition version in memory.
// Entries are keyed by workflow id and version, so a definition changed by
// another process is never served from a stale entry.
type GraphCache struct {
	c *cache.Cache
}

type graphEntry struct {
	stages      []*models.Stage
	transitions []*models.Transition
}

// NewGraphCache creates a cache that sweeps expired entries every cleanupInterval
func NewGraphCache(cleanupInterval time.Duration) *GraphCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &GraphCache{c: cache.New(DefaultGraphTTL, cleanupInterval)}
}

func graphKey(workflowID string, version int) string {
	return fmt.Sprintf("%s@%d", workflowID, version)
}

// Get fills def's stages and transitions from the entry for def's id and version
func (g *GraphCache) Get(def *models.WorkflowDefinition) bool {
	v, ok := g.c.Get(graphKey(def.ID, def.Version))
	if !ok {
		return false
	}
	entry := v.(graphEntry)
	def.Stages, def.Transitions = entry.stages, entry.transitions
	return true
}

// Put stores def's graph under its id and version
func (g *GraphCache) Put(def *models.WorkflowDefinition) {
	g.c.SetDefault(graphKey(def.ID, def.Version), graphEntry{stages: def.Stages, transitions: def.Transitions})
}

// Invalidate drops one version of a workflow's graph
func (g *GraphCache) Invalidate(workflowID string, version int) {
	g.c.Delete(graphKey(workflowID, version))
}
