// Package skills implements the skill library: persisted code recipes that
// compile to Starlark programs, invoke against the shared session
// namespace, and are discoverable by semantic search.
package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.starlark.net/starlark"

	"codemode/internal/errors"
	"codemode/internal/logging"
	"codemode/internal/store"
)

const searchFloor = 0.1

// Skill is one loaded entry. A corrupt entry (source does not compile) has
// Error set and no Compiled.
type Skill struct {
	Name        string
	Description string
	Source      string
	Params      []Param
	Compiled    *Compiled
	Error       string
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float32 `json:"score"`
}

// Library loads skills from a store, compiles them, and maintains an
// in-memory vector index over their descriptions. Embeddings persist in
// the store as content-hashed sidecars, so restarts do not re-embed
// unchanged skills.
type Library struct {
	store         store.SkillStore
	embedder      Embedder
	isPredeclared func(string) bool

	mu         sync.RWMutex
	skills     map[string]*Skill
	collection *chromem.Collection

	logger logging.Logger
}

// NewLibrary creates a library over skillStore. isPredeclared names the
// bindings (tools, skills, artifacts, deps, stdlib modules) visible to
// compiled skill modules. embedder may be nil.
func NewLibrary(skillStore store.SkillStore, embedder Embedder, isPredeclared func(string) bool, logger logging.Logger) *Library {
	lib := &Library{
		store:         skillStore,
		embedder:      embedder,
		isPredeclared: isPredeclared,
		skills:        make(map[string]*Skill),
		logger:        logging.OrNop(logger),
	}
	if embedder != nil {
		db := chromem.NewDB()
		embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
			return embedder.Embed(ctx, text)
		}
		collection, err := db.GetOrCreateCollection("skills", nil, embeddingFunc)
		if err != nil {
			lib.logger.Error("Failed to create vector collection, search degrades to substring: %v", err)
		} else {
			lib.collection = collection
		}
	}
	return lib
}

// Load reads every stored skill, compiles it, and refreshes the index.
// Corrupt entries are kept as error records; they never fail the load.
func (l *Library) Load(ctx context.Context) error {
	records, err := l.store.List(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.skills = make(map[string]*Skill, len(records))
	for _, record := range records {
		skill := l.buildSkill(record)
		l.skills[record.Name] = skill
		if skill.Error == "" {
			l.indexSkill(ctx, skill)
		}
	}
	l.logger.Info("Loaded %d skills", len(l.skills))
	return nil
}

func (l *Library) buildSkill(record *store.SkillRecord) *Skill {
	skill := &Skill{
		Name:        record.Name,
		Description: record.Description,
		Source:      record.Source,
	}
	compiled, err := Compile(record.Name, record.Source, l.isPredeclared)
	if err != nil {
		l.logger.Warn("Skill %q is corrupt: %v", record.Name, err)
		skill.Error = err.Error()
		return skill
	}
	skill.Compiled = compiled
	skill.Params = compiled.Params
	if skill.Description == "" {
		skill.Description = compiled.Docstring
	}
	return skill
}

// indexSkill ensures the skill's description vector is in the collection,
// reusing the persisted embedding when the content hash still matches.
// Caller holds l.mu.
func (l *Library) indexSkill(ctx context.Context, skill *Skill) {
	if l.collection == nil {
		return
	}
	hash := contentHash(skill.Source, skill.Description)
	doc := chromem.Document{
		ID:       skill.Name,
		Content:  searchText(skill.Name, skill.Description),
		Metadata: map[string]string{"name": skill.Name},
	}

	if cached, err := l.store.GetEmbedding(ctx, skill.Name); err == nil && cached.Hash == hash {
		doc.Embedding = cached.Vector
	} else {
		vector, err := l.embedder.Embed(ctx, doc.Content)
		if err != nil {
			l.logger.Warn("Failed to embed skill %q: %v", skill.Name, err)
			return
		}
		doc.Embedding = vector
		if err := l.store.PutEmbedding(ctx, skill.Name, &store.Embedding{Hash: hash, Vector: vector}); err != nil {
			l.logger.Warn("Failed to cache embedding for %q: %v", skill.Name, err)
		}
	}

	if err := l.collection.AddDocument(ctx, doc); err != nil {
		l.logger.Warn("Failed to index skill %q: %v", skill.Name, err)
	}
}

func contentHash(source, description string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + description))
	return hex.EncodeToString(sum[:])
}

func searchText(name, description string) string {
	if description == "" {
		return name
	}
	return name + ": " + description
}

// List returns all entries sorted by name, corrupt ones included.
func (l *Library) List() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Skill, 0, len(l.skills))
	for _, skill := range l.skills {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one entry. A miss falls through to the store, so skills
// created by another process over the same backend become visible without
// a reload.
func (l *Library) Get(ctx context.Context, name string) (*Skill, error) {
	l.mu.RLock()
	skill, ok := l.skills[name]
	l.mu.RUnlock()
	if ok {
		return skill, nil
	}

	record, err := l.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.skills[name]; ok {
		return cached, nil
	}
	skill = l.buildSkill(record)
	l.skills[name] = skill
	if skill.Error == "" {
		l.indexSkill(ctx, skill)
	}
	return skill, nil
}

// Create validates, compiles, persists and indexes a new skill. An existing
// name is rejected unless overwrite is set.
func (l *Library) Create(ctx context.Context, name, source, description string, overwrite bool) (*Skill, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	compiled, err := Compile(name, source, l.isPredeclared)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.skills[name]; exists && !overwrite {
		return nil, errors.New(errors.KindDuplicateSkill, "skill %q already exists", name)
	}

	record := &store.SkillRecord{Name: name, Description: description, Source: source}
	if err := l.store.Put(ctx, record); err != nil {
		return nil, err
	}

	skill := &Skill{
		Name:        name,
		Description: description,
		Source:      source,
		Params:      compiled.Params,
		Compiled:    compiled,
	}
	if skill.Description == "" {
		skill.Description = compiled.Docstring
	}
	l.skills[name] = skill
	l.indexSkill(ctx, skill)
	return skill, nil
}

// Delete removes a skill; it reports false when the skill was absent.
func (l *Library) Delete(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed, err := l.store.Delete(ctx, name)
	if err != nil {
		return false, err
	}
	delete(l.skills, name)
	if l.collection != nil {
		if err := l.collection.Delete(ctx, nil, nil, name); err != nil {
			l.logger.Debug("Vector index delete for %q: %v", name, err)
		}
	}
	return removed, nil
}

// Invoke calls skill name with kwargs under the given predeclared bindings.
// The predeclared dict carries the shared session namespaces, so skills can
// reach tools, other skills and artifacts. ctx bounds the store read-through
// for a not-yet-cached skill; calls inside the skill observe the context
// attached to thread.
func (l *Library) Invoke(ctx context.Context, thread *starlark.Thread, predeclared starlark.StringDict, name string, kwargs []starlark.Tuple) (starlark.Value, error) {
	skill, err := l.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if skill.Error != "" {
		return nil, errors.New(errors.KindCorrupt, "skill %q is corrupt: %s", name, skill.Error)
	}
	if err := skill.Compiled.BindCheck(kwargs); err != nil {
		return nil, err
	}
	return skill.Compiled.Invoke(thread, predeclared, kwargs)
}

// Search ranks skills against query. With an embedder the ranking is cosine
// similarity over description embeddings with a floor; without one it is a
// case-insensitive substring match with deterministic name order.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	l.mu.RLock()
	collection := l.collection
	l.mu.RUnlock()

	if collection != nil && collection.Count() > 0 {
		topK := limit
		if count := collection.Count(); topK > count {
			topK = count
		}
		hits, err := collection.Query(ctx, query, topK, nil, nil)
		if err != nil {
			return nil, errors.Wrap(errors.KindRuntime, err, "vector search")
		}
		var results []SearchResult
		for _, hit := range hits {
			if hit.Similarity < searchFloor {
				continue
			}
			skill, err := l.Get(ctx, hit.ID)
			if err != nil {
				continue
			}
			results = append(results, SearchResult{
				Name:        skill.Name,
				Description: skill.Description,
				Score:       hit.Similarity,
			})
		}
		return results, nil
	}

	return l.substringSearch(query, limit), nil
}

func (l *Library) substringSearch(query string, limit int) []SearchResult {
	needle := strings.ToLower(query)
	var results []SearchResult
	for _, skill := range l.List() {
		if skill.Error != "" {
			continue
		}
		if strings.Contains(strings.ToLower(skill.Name), needle) ||
			strings.Contains(strings.ToLower(skill.Description), needle) {
			results = append(results, SearchResult{Name: skill.Name, Description: skill.Description})
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
