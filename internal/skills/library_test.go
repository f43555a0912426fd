package skills

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"codemode/internal/errors"
	"codemode/internal/logging"
	"codemode/internal/store"
)

func noPredeclared(string) bool { return false }

func newTestLibrary(t *testing.T, embedder Embedder) *Library {
	t.Helper()
	backing, err := store.OpenFile(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	lib := NewLibrary(backing.Skills(), embedder, noPredeclared, logging.Nop())
	require.NoError(t, lib.Load(context.Background()))
	return lib
}

func TestCompileExtractsSignatureAndDocstring(t *testing.T) {
	const src = `
def run(url, retries=3, headers=None):
    """Fetch a URL with retries."""
    return url
`
	compiled, err := Compile("fetch", src, noPredeclared)
	require.NoError(t, err)
	require.Equal(t, "Fetch a URL with retries.", compiled.Docstring)
	require.Len(t, compiled.Params, 3)
	require.Equal(t, Param{Name: "url"}, compiled.Params[0])
	require.Equal(t, Param{Name: "retries", HasDefault: true, Default: "3"}, compiled.Params[1])
	require.True(t, compiled.Params[2].HasDefault)
}

func TestCompileRejectsMissingRun(t *testing.T) {
	_, err := Compile("x", "def other():\n    pass\n", noPredeclared)
	require.True(t, errors.HasKind(err, errors.KindCorrupt), "got %v", err)

	_, err = Compile("x", "def run(:\n", noPredeclared)
	require.True(t, errors.HasKind(err, errors.KindCorrupt), "got %v", err)
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("fetch_json"))
	require.NoError(t, ValidateName("_private"))
	for _, bad := range []string{"", "1abc", "has-dash", "has space", "a.b"} {
		require.Error(t, ValidateName(bad), "name %q", bad)
	}
}

func TestCreateInvokeRoundTrip(t *testing.T) {
	lib := newTestLibrary(t, nil)
	ctx := context.Background()

	_, err := lib.Create(ctx, "double", "def run(x):\n    return x * 2\n", "double a number", false)
	require.NoError(t, err)

	thread := &starlark.Thread{Name: "test"}
	kwargs := []starlark.Tuple{{starlark.String("x"), starlark.MakeInt(21)}}
	value, err := lib.Invoke(ctx, thread, starlark.StringDict{}, "double", kwargs)
	require.NoError(t, err)
	require.Equal(t, "42", value.String())
}

func TestCreateRejectsDuplicateUnlessOverwrite(t *testing.T) {
	lib := newTestLibrary(t, nil)
	ctx := context.Background()
	src := "def run():\n    return 1\n"

	_, err := lib.Create(ctx, "a", src, "", false)
	require.NoError(t, err)

	_, err = lib.Create(ctx, "a", src, "", false)
	require.True(t, errors.HasKind(err, errors.KindDuplicateSkill), "got %v", err)

	_, err = lib.Create(ctx, "a", "def run():\n    return 2\n", "", true)
	require.NoError(t, err)
}

func TestInvokeArgumentValidation(t *testing.T) {
	lib := newTestLibrary(t, nil)
	ctx := context.Background()
	_, err := lib.Create(ctx, "greet", "def run(name, greeting=\"hi\"):\n    return greeting + \" \" + name\n", "", false)
	require.NoError(t, err)

	thread := &starlark.Thread{Name: "test"}

	_, err = lib.Invoke(ctx, thread, starlark.StringDict{}, "greet", nil)
	require.True(t, errors.HasKind(err, errors.KindMissingArgument), "got %v", err)

	kwargs := []starlark.Tuple{
		{starlark.String("name"), starlark.String("x")},
		{starlark.String("bogus"), starlark.String("y")},
	}
	_, err = lib.Invoke(ctx, thread, starlark.StringDict{}, "greet", kwargs)
	require.True(t, errors.HasKind(err, errors.KindUnknownArgument), "got %v", err)

	_, err = lib.Invoke(ctx, thread, starlark.StringDict{}, "missing", nil)
	require.True(t, errors.HasKind(err, errors.KindNotFound), "got %v", err)
}

func TestSkillRuntimeFailureIsSkillError(t *testing.T) {
	lib := newTestLibrary(t, nil)
	ctx := context.Background()
	_, err := lib.Create(ctx, "bad", "def run():\n    return 1 // 0\n", "", false)
	require.NoError(t, err)

	thread := &starlark.Thread{Name: "test"}
	_, err = lib.Invoke(ctx, thread, starlark.StringDict{}, "bad", nil)
	require.True(t, errors.HasKind(err, errors.KindSkillError), "got %v", err)
}

// ctxRecordingStore remembers the context of the last Get call.
type ctxRecordingStore struct {
	store.SkillStore
	lastGetCtx context.Context
}

func (s *ctxRecordingStore) Get(ctx context.Context, name string) (*store.SkillRecord, error) {
	s.lastGetCtx = ctx
	return s.SkillStore.Get(ctx, name)
}

type ctxKey string

func TestInvokeReadThroughCarriesCallerContext(t *testing.T) {
	backing, err := store.OpenFile(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	recording := &ctxRecordingStore{SkillStore: backing.Skills()}
	ctx := context.Background()

	lib := NewLibrary(recording, nil, noPredeclared, logging.Nop())
	require.NoError(t, lib.Load(ctx))

	// Written behind the library's back, so Invoke must hit the store.
	require.NoError(t, backing.Skills().Put(ctx, &store.SkillRecord{Name: "late", Source: "def run():\n    return 7\n"}))

	callCtx := context.WithValue(ctx, ctxKey("caller"), "yes")
	thread := &starlark.Thread{Name: "test"}
	value, err := lib.Invoke(callCtx, thread, starlark.StringDict{}, "late", nil)
	require.NoError(t, err)
	require.Equal(t, "7", value.String())
	require.NotNil(t, recording.lastGetCtx)
	require.Equal(t, "yes", recording.lastGetCtx.Value(ctxKey("caller")))
}

func TestCorruptSkillListedButNotCallable(t *testing.T) {
	backing, err := store.OpenFile(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backing.Skills().Put(ctx, &store.SkillRecord{Name: "good", Source: "def run():\n    return 1\n"}))
	require.NoError(t, backing.Skills().Put(ctx, &store.SkillRecord{Name: "broken", Source: "def run(:\n"}))

	lib := NewLibrary(backing.Skills(), nil, noPredeclared, logging.Nop())
	require.NoError(t, lib.Load(ctx))

	entries := lib.List()
	require.Len(t, entries, 2)
	byName := map[string]*Skill{}
	for _, entry := range entries {
		byName[entry.Name] = entry
	}
	require.Empty(t, byName["good"].Error)
	require.NotEmpty(t, byName["broken"].Error)

	thread := &starlark.Thread{Name: "test"}
	_, err = lib.Invoke(ctx, thread, starlark.StringDict{}, "broken", nil)
	require.True(t, errors.HasKind(err, errors.KindCorrupt), "got %v", err)
}

func TestDocstringUsedWhenDescriptionMissing(t *testing.T) {
	lib := newTestLibrary(t, nil)
	ctx := context.Background()
	_, err := lib.Create(ctx, "doc", "def run():\n    \"\"\"From the docstring.\"\"\"\n    return 1\n", "", false)
	require.NoError(t, err)

	skill, err := lib.Get(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, "From the docstring.", skill.Description)
}

func TestSubstringSearchWithoutEmbedder(t *testing.T) {
	lib := newTestLibrary(t, nil)
	ctx := context.Background()
	_, err := lib.Create(ctx, "fetch_weather", "def run():\n    return 1\n", "get the weather forecast", false)
	require.NoError(t, err)
	_, err = lib.Create(ctx, "stock_quote", "def run():\n    return 2\n", "get a stock price", false)
	require.NoError(t, err)

	results, err := lib.Search(ctx, "weather", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "fetch_weather", results[0].Name)
}

// keywordEmbedder maps texts onto a tiny fixed vocabulary so similarity
// ranking is deterministic in tests.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := []float32{0, 0, 1}
	if strings.Contains(lower, "weather") {
		vec[0] = 4
	}
	if strings.Contains(lower, "stock") {
		vec[1] = 4
	}
	return vec, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = e.Embed(ctx, text)
	}
	return out, nil
}

func TestSemanticSearchRanksByEmbedding(t *testing.T) {
	lib := newTestLibrary(t, keywordEmbedder{})
	ctx := context.Background()
	_, err := lib.Create(ctx, "forecast", "def run():\n    return 1\n", "check the weather for a city", false)
	require.NoError(t, err)
	_, err = lib.Create(ctx, "quote", "def run():\n    return 2\n", "check a stock ticker", false)
	require.NoError(t, err)

	results, err := lib.Search(ctx, "what is the weather like", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "forecast", results[0].Name)
}

func TestEmbeddingCacheReusedAcrossLoads(t *testing.T) {
	backing, err := store.OpenFile(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	lib := NewLibrary(backing.Skills(), keywordEmbedder{}, noPredeclared, logging.Nop())
	require.NoError(t, lib.Load(ctx))
	_, err = lib.Create(ctx, "forecast", "def run():\n    return 1\n", "weather", false)
	require.NoError(t, err)

	cached, err := backing.Skills().GetEmbedding(ctx, "forecast")
	require.NoError(t, err)
	require.NotEmpty(t, cached.Vector)

	// A second library over the same store picks up the persisted vector.
	again := NewLibrary(backing.Skills(), keywordEmbedder{}, noPredeclared, logging.Nop())
	require.NoError(t, again.Load(ctx))
	results, err := again.Search(ctx, "weather", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
