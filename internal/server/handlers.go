package server

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/database-ai/internal/agent"
	"github.com/seanankenbruck/database-ai/internal/auth"
	"github.com/seanankenbruck/database-ai/internal/errors"
	"github.com/seanankenbruck/database-ai/internal/format"
	"github.com/seanankenbruck/database-ai/internal/observability"
	"github.com/seanankenbruck/database-ai/internal/store"
)

// displayMaxRows caps the rendered result table in chat responses
const displayMaxRows = 20

// ChatRequest is the body of POST /api/v1/chat
type ChatRequest struct {
	Question string `json:"question" binding:"required"`
}

// chatDisplay carries pre-rendered strings for terminal-style chat clients
type chatDisplay struct {
	Query      string   `json:"query,omitempty"`
	Table      string   `json:"table,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
}

// handleCreateSession opens a chat session and returns the JWT bound to it
func (s *Server) handleCreateSession(c *gin.Context) {
	clientID := auth.ClientID(c)

	sess, err := s.cfg.Sessions.Create(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := s.cfg.Auth.CreateSessionToken(sess.ID, clientID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"token":      token,
		"expires_in": int(s.cfg.Auth.SessionExpiry().Seconds()),
	})
}

// handleChat answers one question inside a session's conversation
func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	ctx := c.Request.Context()
	sessionID := auth.SessionID(c)

	sess, err := s.cfg.Sessions.Touch(ctx, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	ag := s.agentFor(ctx, sessionID)
	result := ag.ProcessQuery(ctx, req.Question, agent.WithUserID(auth.ClientID(c)))

	c.JSON(http.StatusOK, gin.H{
		"result":         result,
		"display":        displayStrings(result),
		"question_count": sess.QuestionCount,
	})
}

// handleSuggestions serves sample questions, cached per store set
func (s *Server) handleSuggestions(c *gin.Context) {
	ctx := c.Request.Context()

	kinds := s.cfg.Dispatcher.Available(ctx)
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	cacheKey := strings.Join(names, ",")

	if cached, err := s.cfg.Sessions.CachedSuggestions(ctx, cacheKey); err == nil {
		c.JSON(http.StatusOK, gin.H{"suggestions": cached, "cached": true})
		return
	}

	suggestions := s.newAgent(ctx, "").SuggestedQuestions(ctx)

	if len(suggestions) > 0 {
		if err := s.cfg.Sessions.CacheSuggestions(ctx, cacheKey, suggestions); err != nil {
			s.logger.Debug(ctx, "Failed to cache suggestions", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions, "cached": false})
}

// handleClearHistory resets the conversation held by the session's agent
func (s *Server) handleClearHistory(c *gin.Context) {
	sessionID := auth.SessionID(c)

	if ag, ok := s.lookupAgent(sessionID); ok {
		ag.ClearHistory()
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "cleared": true})
}

// handleDeleteSession ends the chat session and releases its agent
func (s *Server) handleDeleteSession(c *gin.Context) {
	sessionID := auth.SessionID(c)

	if err := s.cfg.Sessions.Delete(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	s.dropAgent(sessionID)

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted": true})
}

// handleTools documents the store operations behind the agent
func (s *Server) handleTools(c *gin.Context) {
	tools := s.cfg.Dispatcher.Tools()
	c.JSON(http.StatusOK, gin.H{"tools": tools, "count": len(tools)})
}

// handleMetrics dumps the in-process metric registry and limiter state
func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics":      observability.GetGlobalMetrics().GetAll(),
		"rate_limiter": s.cfg.Auth.LimiterStats(),
		"timestamp":    time.Now().UTC(),
	})
}

// displayStrings renders the query and result for clients that show plain
// text alongside the structured payload
func displayStrings(result agent.QueryResult) chatDisplay {
	display := chatDisplay{}

	switch {
	case result.SQL != "":
		display.Query = format.SQL(result.SQL)
		display.Tables = format.ExtractTableReferences(result.SQL)
		display.Complexity = format.EstimateComplexity(result.SQL)
	case result.MongoQuery != nil:
		display.Query = format.MongoQuery(result.MongoQuery)
	}

	if result.Success && len(result.Rows) > 0 {
		display.Table = format.Results(&store.Result{
			Rows:     result.Rows,
			RowCount: result.RowCount,
		}, displayMaxRows)
	}

	return display
}

// respondError renders an error with its mapped HTTP status. Enhanced errors
// keep their code and suggestion in the body.
func respondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	var enhanced *errors.EnhancedError
	if stderrors.As(err, &enhanced) {
		c.JSON(status, gin.H{"error": enhanced})
		return
	}
	c.JSON(status, gin.H{"error": gin.H{"message": err.Error()}})
}
