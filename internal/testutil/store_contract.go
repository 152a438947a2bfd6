package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/glup3/ghstats/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract checks the behaviour every stats.Store has to provide. Each call
// should get a store without data for the "contract" user.
func RunStoreContract(t *testing.T, store stats.Store) {
	ctx := context.Background()
	key := stats.NewKey("Contract", stats.IncludeForks)
	other := stats.NewKey("contract", stats.ExcludeForks)

	first := stats.Snapshot{
		Pages: []stats.PageEntry{{Page: 1, ETag: `"a"`}, {Page: 2, ETag: `"b"`}},
		Data: map[string][]stats.RepoRecord{
			`"a"`: {{Name: "contract/one", Stars: 3, SizeKB: 10, LanguagesURL: "https://api.github.com/repos/contract/one/languages"}},
			`"b"`: {{Name: "contract/two", Fork: true, Forks: 1, SizeKB: 20}},
		},
		Result: stats.Result{
			RepoCount:   2,
			StarTotal:   3,
			ForkTotal:   1,
			AvgRepoSize: "15 KB",
			Languages:   []stats.LanguageStat{{Name: "Go", Bytes: 1200}, {Name: "Shell", Bytes: 30}},
		},
	}

	t.Run("unseen key is empty", func(t *testing.T) {
		pages, err := store.PageList(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, pages)

		aggregate, err := store.Aggregate(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, aggregate)

		_, ok, err := store.PageData(ctx, key, `"a"`)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("commit is readable", func(t *testing.T) {
		require.NoError(t, store.Commit(ctx, key, first))

		pages, err := store.PageList(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, first.Pages, pages)

		repos, ok, err := store.PageData(ctx, key, `"b"`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first.Data[`"b"`], repos)

		aggregate, err := store.Aggregate(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, aggregate)
		assert.Equal(t, first.Result, *aggregate)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		pages, err := store.PageList(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, pages)
	})

	t.Run("commit replaces stale tags", func(t *testing.T) {
		second := stats.Snapshot{
			Pages: []stats.PageEntry{{Page: 1, ETag: `"a"`}, {Page: 2, ETag: `"c"`}, {Page: 3, ETag: `"d"`}},
			Data: map[string][]stats.RepoRecord{
				`"a"`: first.Data[`"a"`],
				`"c"`: {{Name: "contract/three", Stars: 5}},
				`"d"`: {},
			},
			Result: stats.Result{RepoCount: 2, StarTotal: 8, AvgRepoSize: "5 KB", Languages: []stats.LanguageStat{}},
		}
		require.NoError(t, store.Commit(ctx, key, second))

		pages, err := store.PageList(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, second.Pages, pages)

		_, ok, err := store.PageData(ctx, key, `"b"`)
		require.NoError(t, err)
		assert.False(t, ok)

		repos, ok, err := store.PageData(ctx, key, `"c"`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, second.Data[`"c"`], repos)

		aggregate, err := store.Aggregate(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, aggregate)
		assert.Equal(t, 8, aggregate.StarTotal)
		assert.NotNil(t, aggregate.Languages, "an empty language list must not come back as null")
		assert.Empty(t, aggregate.Languages)
	})

	t.Run("empty snapshot keeps the aggregate", func(t *testing.T) {
		empty := stats.Snapshot{
			Result: stats.Result{AvgRepoSize: "0 KB", Languages: []stats.LanguageStat{}},
		}
		require.NoError(t, store.Commit(ctx, other, empty))

		pages, err := store.PageList(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, pages)

		aggregate, err := store.Aggregate(ctx, other)
		require.NoError(t, err)
		require.NotNil(t, aggregate)
		assert.Equal(t, "0 KB", aggregate.AvgRepoSize)

		encoded, err := json.Marshal(aggregate)
		require.NoError(t, err)
		assert.Contains(t, string(encoded), `"languages":[]`)
	})
}
