package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

const (
	skillSourceExt   = ".source"
	metaExt          = ".meta"
	embeddingExt     = ".embedding"
	requirementsName = "requirements.txt"
)

// FileStorage keeps every entity as a file under a base directory:
//
//	<base>/skills/<name>.source + <name>.meta (+ <name>.embedding)
//	<base>/artifacts/<name> + <name>.meta
//	<base>/requirements.txt
//
// Writes are atomic (write to temp file, then rename).
type FileStorage struct {
	basePath string
	logger   logging.Logger
}

// OpenFile opens (creating if needed) a file-backed storage rooted at basePath.
func OpenFile(basePath string, logger logging.Logger) (*FileStorage, error) {
	if basePath == "" {
		return nil, errors.New(errors.KindInvalidRequest, "base path must be non-empty")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "resolve base path")
	}
	for _, dir := range []string{abs, filepath.Join(abs, "skills"), filepath.Join(abs, "artifacts")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorageUnavailable, err, "create %s", dir)
		}
	}
	return &FileStorage{basePath: abs, logger: logging.OrNop(logger)}, nil
}

func (s *FileStorage) Skills() SkillStore       { return (*fileSkillStore)(s) }
func (s *FileStorage) Artifacts() ArtifactStore { return (*fileArtifactStore)(s) }
func (s *FileStorage) Deps() DepStore           { return (*fileDepStore)(s) }

func (s *FileStorage) BootstrapAccess() Access {
	return Access{Type: TypeFile, BasePath: s.basePath}
}

func (s *FileStorage) Close() error { return nil }

// safeName rejects names that would escape the store directory.
func safeName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.Contains(name, "..") {
		return errors.New(errors.KindInvalidRequest, "invalid name %q", name)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// skill store

type fileSkillStore FileStorage

type skillMeta struct {
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *fileSkillStore) dir() string { return filepath.Join(s.basePath, "skills") }

func (s *fileSkillStore) Get(ctx context.Context, name string) (*SkillRecord, error) {
	if err := safeName(name); err != nil {
		return nil, err
	}
	source, err := os.ReadFile(filepath.Join(s.dir(), name+skillSourceExt))
	if os.IsNotExist(err) {
		return nil, errors.New(errors.KindNotFound, "skill %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "read skill %q", name)
	}

	record := &SkillRecord{Name: name, Source: string(source)}
	meta, err := os.ReadFile(filepath.Join(s.dir(), name+metaExt))
	if err == nil {
		var m skillMeta
		if jerr := json.Unmarshal(meta, &m); jerr != nil {
			s.logger.Warn("Skill %q has unreadable metadata: %v", name, jerr)
		} else {
			record.Description = m.Description
			record.CreatedAt = m.CreatedAt
		}
	}
	return record, nil
}

func (s *fileSkillStore) Put(ctx context.Context, record *SkillRecord) error {
	if err := safeName(record.Name); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	meta, err := json.MarshalIndent(skillMeta{Description: record.Description, CreatedAt: record.CreatedAt}, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "encode skill metadata")
	}
	if err := writeFileAtomic(filepath.Join(s.dir(), record.Name+skillSourceExt), []byte(record.Source), 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "write skill %q", record.Name)
	}
	if err := writeFileAtomic(filepath.Join(s.dir(), record.Name+metaExt), meta, 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "write skill %q metadata", record.Name)
	}
	// New source invalidates any cached embedding by hash mismatch; the
	// stale sidecar is harmless but cheap to drop.
	_ = os.Remove(filepath.Join(s.dir(), record.Name+embeddingExt))
	return nil
}

func (s *fileSkillStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := safeName(name); err != nil {
		return false, err
	}
	err := os.Remove(filepath.Join(s.dir(), name+skillSourceExt))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "delete skill %q", name)
	}
	_ = os.Remove(filepath.Join(s.dir(), name+metaExt))
	_ = os.Remove(filepath.Join(s.dir(), name+embeddingExt))
	return true, nil
}

func (s *fileSkillStore) List(ctx context.Context) ([]*SkillRecord, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "list skills")
	}
	var records []*SkillRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), skillSourceExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), skillSourceExt)
		record, err := s.Get(ctx, name)
		if err != nil {
			s.logger.Warn("Skipping unreadable skill %q: %v", name, err)
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *fileSkillStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := safeName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.dir(), name+skillSourceExt))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "stat skill %q", name)
	}
	return true, nil
}

func (s *fileSkillStore) GetEmbedding(ctx context.Context, name string) (*Embedding, error) {
	if err := safeName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir(), name+embeddingExt))
	if os.IsNotExist(err) {
		return nil, errors.New(errors.KindNotFound, "no cached embedding for %q", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "read embedding for %q", name)
	}
	var emb Embedding
	if err := json.Unmarshal(data, &emb); err != nil {
		return nil, errors.Wrap(errors.KindCorrupt, err, "embedding for %q", name)
	}
	return &emb, nil
}

func (s *fileSkillStore) PutEmbedding(ctx context.Context, name string, emb *Embedding) error {
	if err := safeName(name); err != nil {
		return err
	}
	data, err := json.Marshal(emb)
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "encode embedding")
	}
	if err := writeFileAtomic(filepath.Join(s.dir(), name+embeddingExt), data, 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "write embedding for %q", name)
	}
	return nil
}

// artifact store

type fileArtifactStore FileStorage

type artifactMeta struct {
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (s *fileArtifactStore) dir() string { return filepath.Join(s.basePath, "artifacts") }

func (s *fileArtifactStore) Get(ctx context.Context, name string) (*ArtifactRecord, error) {
	if err := safeName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir(), name))
	if os.IsNotExist(err) {
		return nil, errors.New(errors.KindNotFound, "artifact %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "read artifact %q", name)
	}
	record := &ArtifactRecord{Name: name, Data: data}
	s.readMeta(name, record)
	return record, nil
}

func (s *fileArtifactStore) readMeta(name string, record *ArtifactRecord) {
	raw, err := os.ReadFile(filepath.Join(s.dir(), name+metaExt))
	if err != nil {
		return
	}
	var m artifactMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.Warn("Artifact %q has unreadable metadata: %v", name, err)
		return
	}
	record.Description = m.Description
	record.Metadata = m.Metadata
	record.CreatedAt = m.CreatedAt
}

func (s *fileArtifactStore) Put(ctx context.Context, record *ArtifactRecord) error {
	if err := safeName(record.Name); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	meta, err := json.MarshalIndent(artifactMeta{
		Description: record.Description,
		Metadata:    record.Metadata,
		CreatedAt:   record.CreatedAt,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "encode artifact metadata")
	}
	if err := writeFileAtomic(filepath.Join(s.dir(), record.Name), record.Data, 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "write artifact %q", record.Name)
	}
	if err := writeFileAtomic(filepath.Join(s.dir(), record.Name+metaExt), meta, 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "write artifact %q metadata", record.Name)
	}
	return nil
}

func (s *fileArtifactStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := safeName(name); err != nil {
		return false, err
	}
	err := os.Remove(filepath.Join(s.dir(), name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "delete artifact %q", name)
	}
	_ = os.Remove(filepath.Join(s.dir(), name+metaExt))
	return true, nil
}

func (s *fileArtifactStore) List(ctx context.Context) ([]*ArtifactRecord, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "list artifacts")
	}
	var records []*ArtifactRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, metaExt) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		record := &ArtifactRecord{Name: name}
		s.readMeta(name, record)
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *fileArtifactStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := safeName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.dir(), name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "stat artifact %q", name)
	}
	return true, nil
}

// deps store

type fileDepStore FileStorage

func (s *fileDepStore) path() string { return filepath.Join(s.basePath, requirementsName) }

func (s *fileDepStore) List(ctx context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "read requirements")
	}
	var specs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		specs = append(specs, line)
	}
	return specs, nil
}

func (s *fileDepStore) Save(ctx context.Context, specs []string) error {
	var b strings.Builder
	for _, spec := range specs {
		fmt.Fprintln(&b, spec)
	}
	if err := writeFileAtomic(s.path(), []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "write requirements")
	}
	return nil
}
