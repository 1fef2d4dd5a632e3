package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// CreateDatabaseRequest is the body of POST /rag/databases.
type CreateDatabaseRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Skills      models.KBSkills `json:"skills"`
}

// QueryDatabaseRequest is the body of POST /rag/databases/query.
type QueryDatabaseRequest struct {
	Database string `json:"database"`
	Query    string `json:"query"`
	NResults int    `json:"n_results,omitempty"`
}

// SmartInsertRequest is the body of POST /rag/databases/smart-insert.
type SmartInsertRequest struct {
	Content    string            `json:"content"`
	Title      string            `json:"title,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	AutoCreate bool              `json:"auto_create,omitempty"`
}

// SuggestTargetRequest is the body of POST /rag/databases/suggest-target.
type SuggestTargetRequest struct {
	Content string `json:"content"`
	Title   string `json:"title,omitempty"`
}

func (s *Server) listDatabasesHandler(c *echo.Context) error {
	if s.kb == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge base not available")
	}
	return c.JSON(http.StatusOK, map[string]any{"databases": s.kb.ListCollections()})
}

func (s *Server) createDatabaseHandler(c *echo.Context) error {
	if s.kb == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge base not available")
	}
	var req CreateDatabaseRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}
	if err := s.kb.CreateCollection(req.Name, req.Description, req.Category, req.Skills); err != nil {
		return fail(c, err)
	}
	col, err := s.kb.GetCollection(req.Name)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, col)
}

func (s *Server) deleteDatabaseHandler(c *echo.Context) error {
	if s.kb == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge base not available")
	}
	name := c.Param("name")
	if name == "" {
		return badRequest(c, "database name is required")
	}
	if err := s.kb.DeleteCollection(name); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) queryDatabaseHandler(c *echo.Context) error {
	if s.kb == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge base not available")
	}
	var req QueryDatabaseRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Database == "" || req.Query == "" {
		return badRequest(c, "database and query are required")
	}
	results, err := s.kb.Query(c.Request().Context(), req.Database, req.Query, req.NResults)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"database": req.Database,
		"results":  results,
	})
}

func (s *Server) smartInsertHandler(c *echo.Context) error {
	if s.kb == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge base not available")
	}
	var req SmartInsertRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Content == "" {
		return badRequest(c, "content is required")
	}
	database, id, err := s.kb.SmartInsert(c.Request().Context(), models.KBDocument{
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		Metadata: req.Metadata,
	}, req.AutoCreate)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"database":    database,
		"inserted_id": id,
	})
}

func (s *Server) suggestTargetHandler(c *echo.Context) error {
	if s.kb == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge base not available")
	}
	var req SuggestTargetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Content == "" {
		return badRequest(c, "content is required")
	}
	suggestion, err := s.kb.Suggest(req.Content, req.Title)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, suggestion)
}
