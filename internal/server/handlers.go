package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"codemode/internal/errors"
	"codemode/internal/skills"
	"codemode/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": s.status.Load()})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tools":        len(s.ns.Registry.List()),
		"skills":       len(s.ns.Library.List()),
		"storage":      s.ns.Storage.BootstrapAccess().Type,
		"capabilities": s.exec.Capabilities(),
	})
}

type executeRequest struct {
	Code      string `json:"code" binding:"required"`
	TimeoutMS int64  `json:"timeout_ms"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{"kind": string(errors.KindInvalidRequest), "message": err.Error()},
		})
		return
	}

	s.execMu.Lock()
	result, err := s.exec.Execute(c.Request.Context(), req.Code, time.Duration(req.TimeoutMS)*time.Millisecond)
	s.execMu.Unlock()
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Error != nil && result.Error.Kind == string(errors.KindTimeout) {
		status = http.StatusRequestTimeout
	}
	c.JSON(status, result)
}

func (s *Server) handleReset(c *gin.Context) {
	s.execMu.Lock()
	err := s.exec.Reset(c.Request.Context())
	s.execMu.Unlock()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.ns.Registry.List()})
}

func (s *Server) handleSearchTools(c *gin.Context) {
	query := c.Query("q")
	limit := queryInt(c, "limit", 5)
	c.JSON(http.StatusOK, gin.H{"tools": s.ns.Registry.Search(query, limit)})
}

type skillReply struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Params      []skills.Param `json:"params,omitempty"`
	Source      string         `json:"source,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (s *Server) handleListSkills(c *gin.Context) {
	entries := s.ns.Library.List()
	out := make([]skillReply, 0, len(entries))
	for _, skill := range entries {
		out = append(out, skillReply{
			Name:        skill.Name,
			Description: skill.Description,
			Params:      skill.Params,
			Error:       skill.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{"skills": out})
}

func (s *Server) handleSearchSkills(c *gin.Context) {
	results, err := s.ns.Library.Search(c.Request.Context(), c.Query("q"), queryInt(c, "limit", 5))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skills": results})
}

func (s *Server) handleGetSkill(c *gin.Context) {
	skill, err := s.ns.Library.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, skillReply{
		Name:        skill.Name,
		Description: skill.Description,
		Params:      skill.Params,
		Source:      skill.Source,
		Error:       skill.Error,
	})
}

type createSkillRequest struct {
	Name        string `json:"name" binding:"required"`
	Source      string `json:"source" binding:"required"`
	Description string `json:"description"`
	Overwrite   bool   `json:"overwrite"`
}

func (s *Server) handleCreateSkill(c *gin.Context) {
	var req createSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{"kind": string(errors.KindInvalidRequest), "message": err.Error()},
		})
		return
	}
	skill, err := s.ns.Library.Create(c.Request.Context(), req.Name, req.Source, req.Description, req.Overwrite)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, skillReply{
		Name:        skill.Name,
		Description: skill.Description,
		Params:      skill.Params,
	})
}

func (s *Server) handleDeleteSkill(c *gin.Context) {
	removed, err := s.ns.Library.Delete(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}

func (s *Server) handleListArtifacts(c *gin.Context) {
	records, err := s.ns.Storage.Artifacts().List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": records})
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	record, err := s.ns.Storage.Artifacts().Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        record.Name,
		"data":        string(record.Data),
		"description": record.Description,
		"metadata":    record.Metadata,
	})
}

type saveArtifactRequest struct {
	Name        string         `json:"name" binding:"required"`
	Data        string         `json:"data"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleSaveArtifact(c *gin.Context) {
	var req saveArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{"kind": string(errors.KindInvalidRequest), "message": err.Error()},
		})
		return
	}
	err := s.ns.Storage.Artifacts().Put(c.Request.Context(), &store.ArtifactRecord{
		Name:        req.Name,
		Data:        []byte(req.Data),
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (s *Server) handleDeleteArtifact(c *gin.Context) {
	removed, err := s.ns.Storage.Artifacts().Delete(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}

func (s *Server) handleListDeps(c *gin.Context) {
	specs, err := s.ns.Deps.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if specs == nil {
		specs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"deps": specs})
}

type addDepRequest struct {
	Spec string `json:"spec" binding:"required"`
}

func (s *Server) handleAddDep(c *gin.Context) {
	var req addDepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{"kind": string(errors.KindInvalidRequest), "message": err.Error()},
		})
		return
	}
	status, err := s.ns.Deps.Add(c.Request.Context(), req.Spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleRemoveDep(c *gin.Context) {
	removed, err := s.ns.Deps.Remove(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleSyncDeps(c *gin.Context) {
	result, err := s.ns.Deps.Sync(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
