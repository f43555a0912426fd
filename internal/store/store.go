// Package store persists skills, artifacts and declared dependencies behind
// a backend-neutral interface. Two backends exist: a file tree and a Redis
// keyspace. Each backend can describe itself as a serializable Access
// descriptor that a fresh process (subprocess kernel, container) uses to
// reopen the same stores.
package store

import (
	"context"
	"time"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

// Backend type discriminators carried in Access descriptors.
const (
	TypeFile  = "file"
	TypeRedis = "redis"
)

// Access is the serializable storage descriptor. It is cross-process safe:
// everything needed to reopen the stores travels in this struct.
type Access struct {
	Type          string `json:"type"`
	BasePath      string `json:"base_path,omitempty"`
	ConnectionURL string `json:"connection_url,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

// SkillRecord is a persisted skill: source plus metadata. Description may be
// empty when the author relied on the source docstring.
type SkillRecord struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// Embedding is the cached description vector for one skill. Hash is the
// content hash of source+description at embed time; a mismatch invalidates
// the cache.
type Embedding struct {
	Hash   string    `json:"hash"`
	Vector []float32 `json:"vector"`
}

// ArtifactRecord is a persisted blob with metadata.
type ArtifactRecord struct {
	Name        string         `json:"name"`
	Data        []byte         `json:"-"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SkillStore persists skill records and their embedding sidecars.
type SkillStore interface {
	Get(ctx context.Context, name string) (*SkillRecord, error)
	Put(ctx context.Context, record *SkillRecord) error
	// Delete is idempotent; it reports whether the entry existed.
	Delete(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]*SkillRecord, error)
	Exists(ctx context.Context, name string) (bool, error)

	GetEmbedding(ctx context.Context, name string) (*Embedding, error)
	PutEmbedding(ctx context.Context, name string, emb *Embedding) error
}

// ArtifactStore persists named blobs.
type ArtifactStore interface {
	Get(ctx context.Context, name string) (*ArtifactRecord, error)
	Put(ctx context.Context, record *ArtifactRecord) error
	Delete(ctx context.Context, name string) (bool, error)
	// List returns records without Data loaded.
	List(ctx context.Context) ([]*ArtifactRecord, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// DepStore persists the ordered list of declared dependency specs. The deps
// controller owns add/remove semantics; the store only loads and replaces
// the whole list.
type DepStore interface {
	List(ctx context.Context) ([]string, error)
	Save(ctx context.Context, specs []string) error
}

// Storage bundles the three logical stores of one backend.
type Storage interface {
	Skills() SkillStore
	Artifacts() ArtifactStore
	Deps() DepStore

	// BootstrapAccess returns a descriptor sufficient to reopen this
	// storage from another process.
	BootstrapAccess() Access

	Close() error
}

// Open instantiates the backend named by access.
func Open(ctx context.Context, access Access, logger logging.Logger) (Storage, error) {
	switch access.Type {
	case TypeFile:
		return OpenFile(access.BasePath, logger)
	case TypeRedis:
		return OpenRedis(ctx, access.ConnectionURL, access.Prefix, logger)
	default:
		return nil, errors.New(errors.KindInvalidRequest, "unknown storage type %q", access.Type)
	}
}

func validateName(name string) error {
	if name == "" {
		return errors.New(errors.KindInvalidRequest, "name must be non-empty")
	}
	return nil
}
