package session

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"codemode/internal/deps"
	"codemode/internal/skills"
	"codemode/internal/store"
	"codemode/internal/tools"
)

// SkillInfo is the facade view of one stored skill. Source is only set by
// GetSkill; Error marks a corrupt entry.
type SkillInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Params      []skills.Param `json:"params,omitempty"`
	Source      string         `json:"source,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Artifact is one loaded artifact with its payload.
type Artifact struct {
	Name        string
	Data        []byte
	Description string
	Metadata    map[string]any
}

func skillInfo(skill *skills.Skill, withSource bool) *SkillInfo {
	info := &SkillInfo{
		Name:        skill.Name,
		Description: skill.Description,
		Params:      skill.Params,
		Error:       skill.Error,
	}
	if withSource {
		info.Source = skill.Source
	}
	return info
}

// ListTools returns every registered tool in registration order.
func (s *Session) ListTools(ctx context.Context) ([]*tools.Tool, error) {
	if s.remote != nil {
		var reply struct {
			Tools []*tools.Tool `json:"tools"`
		}
		if err := s.remote.Forward(ctx, http.MethodGet, "/tools", nil, &reply); err != nil {
			return nil, err
		}
		return reply.Tools, nil
	}
	return s.ns.Registry.List(), nil
}

// SearchTools ranks tools against a free-text query.
func (s *Session) SearchTools(ctx context.Context, query string, limit int) ([]*tools.Tool, error) {
	if s.remote != nil {
		var reply struct {
			Tools []*tools.Tool `json:"tools"`
		}
		path := "/tools/search?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
		if err := s.remote.Forward(ctx, http.MethodGet, path, nil, &reply); err != nil {
			return nil, err
		}
		return reply.Tools, nil
	}
	return s.ns.Registry.Search(query, limit), nil
}

// ListSkills returns all stored skills, corrupt entries included.
func (s *Session) ListSkills(ctx context.Context) ([]*SkillInfo, error) {
	if s.remote != nil {
		var reply struct {
			Skills []*SkillInfo `json:"skills"`
		}
		if err := s.remote.Forward(ctx, http.MethodGet, "/skills", nil, &reply); err != nil {
			return nil, err
		}
		return reply.Skills, nil
	}
	entries := s.ns.Library.List()
	out := make([]*SkillInfo, 0, len(entries))
	for _, skill := range entries {
		out = append(out, skillInfo(skill, false))
	}
	return out, nil
}

// SearchSkills ranks skills against a free-text query.
func (s *Session) SearchSkills(ctx context.Context, query string, limit int) ([]skills.SearchResult, error) {
	if s.remote != nil {
		var reply struct {
			Skills []skills.SearchResult `json:"skills"`
		}
		path := "/skills/search?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
		if err := s.remote.Forward(ctx, http.MethodGet, path, nil, &reply); err != nil {
			return nil, err
		}
		return reply.Skills, nil
	}
	return s.ns.Library.Search(ctx, query, limit)
}

// GetSkill returns one skill, source included.
func (s *Session) GetSkill(ctx context.Context, name string) (*SkillInfo, error) {
	if s.remote != nil {
		var info SkillInfo
		if err := s.remote.Forward(ctx, http.MethodGet, "/skills/"+url.PathEscape(name), nil, &info); err != nil {
			return nil, err
		}
		return &info, nil
	}
	skill, err := s.ns.Library.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return skillInfo(skill, true), nil
}

// AddSkill validates, compiles and persists a new skill.
func (s *Session) AddSkill(ctx context.Context, name, source, description string, overwrite bool) (*SkillInfo, error) {
	if s.remote != nil {
		body := map[string]any{
			"name": name, "source": source, "description": description, "overwrite": overwrite,
		}
		var info SkillInfo
		if err := s.remote.Forward(ctx, http.MethodPost, "/skills", body, &info); err != nil {
			return nil, err
		}
		return &info, nil
	}
	skill, err := s.ns.Library.Create(ctx, name, source, description, overwrite)
	if err != nil {
		return nil, err
	}
	return skillInfo(skill, false), nil
}

// RemoveSkill deletes a skill; false means it was already absent.
func (s *Session) RemoveSkill(ctx context.Context, name string) (bool, error) {
	if s.remote != nil {
		var reply struct {
			Deleted bool `json:"deleted"`
		}
		err := s.remote.Forward(ctx, http.MethodDelete, "/skills/"+url.PathEscape(name), nil, &reply)
		return reply.Deleted, err
	}
	return s.ns.Library.Delete(ctx, name)
}

// ListArtifacts returns artifact records without their payloads.
func (s *Session) ListArtifacts(ctx context.Context) ([]*store.ArtifactRecord, error) {
	if s.remote != nil {
		var reply struct {
			Artifacts []*store.ArtifactRecord `json:"artifacts"`
		}
		if err := s.remote.Forward(ctx, http.MethodGet, "/artifacts", nil, &reply); err != nil {
			return nil, err
		}
		return reply.Artifacts, nil
	}
	return s.ns.Storage.Artifacts().List(ctx)
}

// SaveArtifact stores a named payload, replacing any previous version.
func (s *Session) SaveArtifact(ctx context.Context, name string, data []byte, description string, metadata map[string]any) error {
	if s.remote != nil {
		body := map[string]any{
			"name": name, "data": string(data), "description": description, "metadata": metadata,
		}
		return s.remote.Forward(ctx, http.MethodPost, "/artifacts", body, nil)
	}
	return s.ns.Storage.Artifacts().Put(ctx, &store.ArtifactRecord{
		Name:        name,
		Data:        data,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	})
}

// LoadArtifact returns one artifact with its payload.
func (s *Session) LoadArtifact(ctx context.Context, name string) (*Artifact, error) {
	if s.remote != nil {
		var reply struct {
			Name        string         `json:"name"`
			Data        string         `json:"data"`
			Description string         `json:"description"`
			Metadata    map[string]any `json:"metadata"`
		}
		if err := s.remote.Forward(ctx, http.MethodGet, "/artifacts/"+url.PathEscape(name), nil, &reply); err != nil {
			return nil, err
		}
		return &Artifact{
			Name:        reply.Name,
			Data:        []byte(reply.Data),
			Description: reply.Description,
			Metadata:    reply.Metadata,
		}, nil
	}
	record, err := s.ns.Storage.Artifacts().Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Name:        record.Name,
		Data:        record.Data,
		Description: record.Description,
		Metadata:    record.Metadata,
	}, nil
}

// DeleteArtifact removes an artifact; false means it was already absent.
func (s *Session) DeleteArtifact(ctx context.Context, name string) (bool, error) {
	if s.remote != nil {
		var reply struct {
			Deleted bool `json:"deleted"`
		}
		err := s.remote.Forward(ctx, http.MethodDelete, "/artifacts/"+url.PathEscape(name), nil, &reply)
		return reply.Deleted, err
	}
	return s.ns.Storage.Artifacts().Delete(ctx, name)
}

// ListDeps returns the declared dependency specs.
func (s *Session) ListDeps(ctx context.Context) ([]string, error) {
	if s.remote != nil {
		var reply struct {
			Deps []string `json:"deps"`
		}
		if err := s.remote.Forward(ctx, http.MethodGet, "/deps", nil, &reply); err != nil {
			return nil, err
		}
		return reply.Deps, nil
	}
	return s.ns.Deps.List(ctx)
}

// AddDep declares and installs one dependency spec. Gated by the runtime
// install policy.
func (s *Session) AddDep(ctx context.Context, spec string) (string, error) {
	if s.remote != nil {
		var reply struct {
			Status string `json:"status"`
		}
		err := s.remote.Forward(ctx, http.MethodPost, "/deps", map[string]any{"spec": spec}, &reply)
		return reply.Status, err
	}
	return s.ns.Deps.Add(ctx, spec)
}

// RemoveDep drops a dependency declaration; false means it was absent.
func (s *Session) RemoveDep(ctx context.Context, name string) (bool, error) {
	if s.remote != nil {
		var reply struct {
			Removed bool `json:"removed"`
		}
		err := s.remote.Forward(ctx, http.MethodDelete, "/deps/"+url.PathEscape(name), nil, &reply)
		return reply.Removed, err
	}
	return s.ns.Deps.Remove(ctx, name)
}

// SyncDeps installs every declared dependency that is not yet present.
func (s *Session) SyncDeps(ctx context.Context) (*deps.InstallResult, error) {
	if s.remote != nil {
		var result deps.InstallResult
		if err := s.remote.Forward(ctx, http.MethodPost, "/deps/sync", nil, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}
	return s.ns.Deps.Sync(ctx)
}
