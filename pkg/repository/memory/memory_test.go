package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ledger/pkg/entity"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

func newUsers() *Repository[*entity.User] {
	return New(func() *entity.User { return &entity.User{} })
}

func TestRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newUsers()

	saved, err := repo.Save(ctx, "u1", &entity.User{Base: entity.Base{ID: "u1"}, Username: "alice"}, true)
	require.NoError(t, err)
	assert.Equal(t, "alice", saved.Username)

	found, ok, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", found.Username)

	_, ok, err = repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_CopySemantics(t *testing.T) {
	ctx := context.Background()
	repo := newUsers()

	u := &entity.User{Base: entity.Base{ID: "u1"}, Username: "alice"}
	_, err := repo.Save(ctx, "u1", u, true)
	require.NoError(t, err)

	u.Username = "mallory"
	found, _, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)

	found.Username = "eve"
	again, _, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
}

func TestRepository_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo := newUsers()

	_, err := repo.Save(ctx, "u1", &entity.User{Base: entity.Base{ID: "u1"}}, true)
	require.NoError(t, err)

	_, err = repo.Save(ctx, "u1", &entity.User{Base: entity.Base{ID: "u1"}}, true)
	assert.True(t, errors.Is(err, sentinel.ErrDuplicate))

	_, err = repo.Save(ctx, "u1", &entity.User{Base: entity.Base{ID: "u1"}, Username: "bob"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Len())
}

func TestRepository_QueryAndPage(t *testing.T) {
	ctx := context.Background()
	repo := newUsers()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		_, err := repo.Save(ctx, id, &entity.User{Base: entity.Base{ID: id}, Username: id}, true)
		require.NoError(t, err)
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "u0", all[0].ID)

	odd, err := repo.Query(ctx, func(u *entity.User) bool { return u.ID == "u1" || u.ID == "u3" })
	require.NoError(t, err)
	assert.Len(t, odd, 2)

	page, err := repo.QueryPage(ctx, nil, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "u2", page[0].ID)
	assert.Equal(t, "u3", page[1].ID)
}

func TestRepository_DeleteByID(t *testing.T) {
	ctx := context.Background()
	repo := newUsers()
	_, err := repo.Save(ctx, "u1", &entity.User{Base: entity.Base{ID: "u1"}}, true)
	require.NoError(t, err)

	ts, err := repo.DeleteByID(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, ts)
	assert.Equal(t, 0, repo.Len())

	ts, err = repo.DeleteByID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestRepository_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := newUsers()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			_, _ = repo.Save(ctx, id, &entity.User{Base: entity.Base{ID: id}}, true)
			_, _, _ = repo.FindByID(ctx, id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, repo.Len())
}
