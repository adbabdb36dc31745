package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/pkg/core"
)

func TestCommitAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "10.25"), testConfig(4))
	require.NoError(t, err)
	require.NoError(t, c.Add(stock("s1", "-3", "12")))
	require.NoError(t, c.Commit(ctx, store))
	assert.False(t, c.Dirty())
	assert.NotEmpty(t, c.Digest())

	loaded, err := Load(ctx, store, "c1", c.Digest(), testConfig(4))
	require.NoError(t, err)

	assert.Equal(t, c.Digest(), loaded.Digest())
	assert.True(t, c.Aggregates().Equal(loaded.Aggregates()))
	assert.Equal(t, core.ChunkOpen, loaded.State())
	assert.False(t, loaded.Dirty())

	keys := []string{}
	for _, e := range loaded.Entries() {
		keys = append(keys, e.Key())
	}
	assert.Equal(t, []string{"t1", "s1"}, keys)
}

func TestCommit_SkipsCleanChunk(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "1"), testConfig(4))
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, store))

	// Anything written now would be lost by a clean Commit.
	require.NoError(t, store.Write(ctx, FileName("c1"), []byte("sentinel")))
	require.NoError(t, c.Commit(ctx, store))

	raw, err := store.Read(ctx, FileName("c1"))
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(raw))
}

func TestLoad_IntegrityMismatch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "1"), testConfig(4))
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, store))
	truth := c.Digest()

	wrong := Digest(SHA256{}, []byte("something else"))
	_, err = Load(ctx, store, "c1", wrong, testConfig(4))
	require.Error(t, err)

	var mismatch *core.IntegrityMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, wrong, mismatch.Expected)
	assert.Equal(t, truth, mismatch.Actual)
	assert.True(t, core.IsIntegrityMismatch(err))
}

func TestLoad_DetectsTamperedBody(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "1"), testConfig(4))
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, store))

	raw, err := store.Read(ctx, FileName("c1"))
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte("amount=1;"), []byte("amount=1000;"), 1)
	require.NotEqual(t, raw, tampered)
	require.NoError(t, store.Write(ctx, FileName("c1"), tampered))

	_, err = Load(ctx, store, "c1", "", testConfig(4))
	assert.True(t, core.IsIntegrityMismatch(err), "got %v", err)

	_, err = VerifyFile(ctx, store, "c1", "")
	assert.True(t, core.IsIntegrityMismatch(err))
}

func TestLoad_Malformed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	require.NoError(t, store.Write(ctx, FileName("nohdr"), []byte("id=x;")))
	_, err := Load(ctx, store, "nohdr", "", testConfig(4))
	assert.ErrorIs(t, err, ErrMalformedFile)

	body := []byte("id=other;state=open;capacity=4;entries={{kind=tx;key=t1;amount=1;}};\n")
	data := EncodeFile(File{Digest: Digest(SHA256{}, body), Body: body})
	require.NoError(t, store.Write(ctx, FileName("c1"), data))
	_, err = Load(ctx, store, "c1", "", testConfig(4))
	assert.ErrorIs(t, err, ErrMalformedFile)

	_, err = Load(ctx, store, "absent", "", testConfig(4))
	assert.ErrorIs(t, err, core.ErrEntryNotFound)
}

func TestLoad_KeepsPersistedCapacity(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "1"), testConfig(2))
	require.NoError(t, err)
	require.NoError(t, c.Add(tx("t2", "1")))
	require.NoError(t, c.Commit(ctx, store))

	loaded, err := Load(ctx, store, "c1", "", testConfig(100))
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Capacity())
	assert.Equal(t, core.ChunkSealed, loaded.State())
}

func TestLoad_OtherDigestAlgorithm(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	cfg := testConfig(4)
	cfg.Digester = XXHash{}
	c, err := New("c1", tx("t1", "1"), cfg)
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, store))
	assert.Contains(t, c.Digest(), "xxhash:")

	// The recorded algorithm is used for verification regardless of config.
	loaded, err := Load(ctx, store, "c1", c.Digest(), testConfig(4))
	require.NoError(t, err)
	assert.Equal(t, c.Digest(), loaded.Digest())
}

func TestLoad_CustomDigester(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	cfg := testConfig(4)
	cfg.Digester = crc{name: "crc32"}
	c, err := New("c1", tx("t1", "1"), cfg)
	require.NoError(t, err)
	require.NoError(t, c.Add(stock("s1", "2", "3")))
	require.NoError(t, c.Commit(ctx, store))
	assert.Contains(t, c.Digest(), "crc32:")

	loaded, err := Load(ctx, store, "c1", "", cfg)
	require.NoError(t, err)
	assert.Equal(t, c.Digest(), loaded.Digest())
	assert.True(t, c.Aggregates().Equal(loaded.Aggregates()))

	actual, err := VerifyFile(ctx, store, "c1", c.Digest(), cfg.Digester)
	require.NoError(t, err)
	assert.Equal(t, c.Digest(), actual)

	// Without the digester the algorithm cannot be resolved.
	_, err = Load(ctx, store, "c1", "", testConfig(4))
	assert.ErrorContains(t, err, "unknown digest algorithm")
}

func TestCommit_DeletedChunkRemovesFile(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "1"), testConfig(4))
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, store))

	_, err = c.Remove("t1")
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, store))

	ok, err := store.Exists(ctx, FileName("c1"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, c.Digest())
}

func TestCommit_TaintedChunkRefuses(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "1"), testConfig(4))
	require.NoError(t, err)
	c.Taint()

	err = c.Commit(ctx, store)
	assert.ErrorIs(t, err, core.ErrChunkTainted)
	assert.True(t, c.Snapshot().Tainted)
}

func TestEncode_Golden(t *testing.T) {
	c, err := New("c-golden", tx("t1", "10.5"), testConfig(4))
	require.NoError(t, err)
	require.NoError(t, c.Add(stock("s1", "-3", "5")))

	data, err := c.Encode()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "two_entries", data)

	// The golden file must also load back.
	store := newMemStore()
	require.NoError(t, store.Write(context.Background(), FileName("c-golden"), data))
	loaded, err := Load(context.Background(), store, "c-golden", "", testConfig(4))
	require.NoError(t, err)
	assert.True(t, loaded.Aggregates().Total("amount").Equal(decimal.RequireFromString("7.5")))
	assert.True(t, loaded.Aggregates().Total("shares").Equal(decimal.NewFromInt(5)))
}

func TestIDFromFile(t *testing.T) {
	id, ok := IDFromFile("sub/dir/abc.chunk")
	assert.True(t, ok)
	assert.Equal(t, "sub/dir/abc", id)

	_, ok = IDFromFile("notes.md")
	assert.False(t, ok)
	_, ok = IDFromFile(".chunk")
	assert.False(t, ok)
	_, ok = IDFromFile("dir/.chunk")
	assert.False(t, ok)
}

func TestProduced_RemembersRecentDigests(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	c, err := New("c1", tx("t1", "1"), testConfig(20))
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, store))
	first := c.Digest()

	require.NoError(t, c.Add(tx("t2", "2")))
	require.NoError(t, c.Commit(ctx, store))

	assert.True(t, c.Produced(first))
	assert.True(t, c.Produced(c.Digest()))
	assert.False(t, c.Produced(Digest(SHA256{}, []byte("foreign"))))

	for i := 3; i < 3+historySize; i++ {
		require.NoError(t, c.Add(tx(fmt.Sprintf("t%d", i), "1")))
		require.NoError(t, c.Commit(ctx, store))
	}
	assert.False(t, c.Produced(first), "old digests are forgotten")
}
