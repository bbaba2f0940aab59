package server

import (
	"context"
	"time"

	"github.com/seanankenbruck/database-ai/internal/agent"
	"github.com/seanankenbruck/database-ai/internal/observability"
)

const janitorInterval = time.Minute

type agentEntry struct {
	agent    *agent.Agent
	lastUsed time.Time
}

// agentFor returns the session's agent, creating it on first use. Agents are
// in-process state: after a restart or an eviction the next question starts a
// fresh conversation against the same session record.
func (s *Server) agentFor(ctx context.Context, sessionID string) *agent.Agent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.agents[sessionID]
	if !ok {
		entry = &agentEntry{agent: s.newAgent(ctx, sessionID)}
		s.agents[sessionID] = entry
		observability.GetGlobalMetrics().Set(observability.MetricSessionsActive, float64(len(s.agents)), nil)
	}
	entry.lastUsed = time.Now()
	return entry.agent
}

// newAgent builds an agent wired to the shared dispatcher
func (s *Server) newAgent(ctx context.Context, sessionID string) *agent.Agent {
	return agent.New(ctx, agent.Config{
		Dispatcher: s.cfg.Dispatcher,
		LLM:        s.cfg.LLM,
		Memory:     s.cfg.Memory,
		Tracer:     s.cfg.Tracer,
		SessionID:  sessionID,
		MaxRows:    s.cfg.MaxRows,
		BlockedSQL: s.cfg.BlockedSQL,
	})
}

func (s *Server) lookupAgent(sessionID string) (*agent.Agent, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.agents[sessionID]
	if !ok {
		return nil, false
	}
	entry.lastUsed = time.Now()
	return entry.agent, true
}

// dropAgent removes a session's agent. The dispatcher is shared across
// agents, so the entry is discarded without closing anything.
func (s *Server) dropAgent(sessionID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.agents[sessionID]; ok {
		delete(s.agents, sessionID)
		observability.GetGlobalMetrics().Set(observability.MetricSessionsActive, float64(len(s.agents)), nil)
	}
}

// evictIdleAgents drops agents with no requests inside the idle window
func (s *Server) evictIdleAgents() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := time.Now().Add(-s.cfg.AgentIdleTimeout)
	evicted := 0
	for sessionID, entry := range s.agents {
		if entry.lastUsed.Before(cutoff) {
			delete(s.agents, sessionID)
			evicted++
		}
	}

	if evicted > 0 {
		metrics := observability.GetGlobalMetrics()
		metrics.Add(observability.MetricSessionsEvicted, float64(evicted), nil)
		metrics.Set(observability.MetricSessionsActive, float64(len(s.agents)), nil)
		s.logger.Info(context.Background(), "Evicted idle agents", map[string]interface{}{
			"evicted": evicted,
			"active":  len(s.agents),
		})
	}
}

func (s *Server) janitorLoop() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.evictIdleAgents()
	}
}

// ActiveAgents reports the number of live per-session agents
func (s *Server) ActiveAgents() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.agents)
}
