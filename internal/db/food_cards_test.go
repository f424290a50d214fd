package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

func newCard(name string, t models.FoodType, price float64) *models.FoodCard {
	return &models.FoodCard{
		Name:     name,
		ImageRef: "images/ab/" + name + ".jpg",
		Price:    price,
		Type:     t,
	}
}

func setupFoodCards(t *testing.T) *FoodCardRepository {
	t.Helper()
	db, bus := setupTestDB(t)
	repo := NewFoodCardRepository(db, bus)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func cardNames(cards []*models.FoodCard) []string {
	names := make([]string, len(cards))
	for i, c := range cards {
		names[i] = c.Name
	}
	return names
}

// Insert then GetByID returns the same card.
func TestFoodCard_InsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	c := &models.FoodCard{
		Name:     "Braised pork rice",
		ImageRef: "images/cd/cdef.jpg",
		Price:    32.5,
		Type:     models.FoodTypeDineIn,
		Note:     "extra egg",
		Location: "Lane 12 diner",
	}
	want := *c

	id, err := repo.Insert(ctx, c)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, id, c.ID)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)

	// every field except the assigned id and stamps is what went in
	diff := cmp.Diff(&want, got, cmp.FilterPath(func(p cmp.Path) bool {
		switch p.Last().String() {
		case ".ID", ".CreatedAt", ".UpdatedAt":
			return true
		}
		return false
	}, cmp.Ignore()))
	assert.Empty(t, diff)

	// the inserted value carries what was stored
	assert.Empty(t, cmp.Diff(c, got))

	again, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestFoodCard_InsertAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		id, err := repo.Insert(ctx, newCard(fmt.Sprintf("card%d", i), models.FoodTypeTakeout, 10))
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
}

func TestFoodCard_InsertExistingIDReplaces(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	id, err := repo.Insert(ctx, newCard("old", models.FoodTypeTakeout, 10))
	require.NoError(t, err)

	replacement := newCard("new", models.FoodTypeHomemade, 0)
	replacement.ID = id
	got, err := repo.Insert(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	stored, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Name)
	assert.Equal(t, models.FoodTypeHomemade, stored.Type)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFoodCard_InsertValidation(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	for name, c := range map[string]*models.FoodCard{
		"no name":    newCard("", models.FoodTypeTakeout, 1),
		"bad type":   newCard("x", models.FoodType("buffet"), 1),
		"negative":   newCard("x", models.FoodTypeTakeout, -3),
		"negativeID": {ID: -1, Name: "x", ImageRef: "i", Type: models.FoodTypeTakeout},
	} {
		_, err := repo.Insert(ctx, c)
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "%s: %v", name, err)
	}
}

// Update keeps the id and moves UpdatedAt strictly forward.
func TestFoodCard_UpdatePreservesIdentity(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	c := newCard("Dumplings", models.FoodTypeHomemade, 12)
	id, err := repo.Insert(ctx, c)
	require.NoError(t, err)
	before := c.UpdatedAt

	// push the stored stamp into the future so the clock cannot help
	_, err = repo.db.Exec(`UPDATE food_cards SET updated_at = ? WHERE id = ?`, before+60_000, id)
	require.NoError(t, err)

	edited := *c
	edited.Name = "Pork dumplings"
	edited.Price = 15
	require.NoError(t, repo.Update(ctx, &edited))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Pork dumplings", got.Name)
	assert.Equal(t, 15.0, got.Price)
	assert.Equal(t, c.CreatedAt, got.CreatedAt)
	assert.Equal(t, before+60_001, got.UpdatedAt)
	assert.Equal(t, got.UpdatedAt, edited.UpdatedAt)

	// back-to-back updates within one millisecond still advance
	require.NoError(t, repo.Update(ctx, &edited))
	require.NoError(t, repo.Update(ctx, &edited))
	assert.Equal(t, before+60_003, edited.UpdatedAt)
}

func TestFoodCard_UpdateMissingIsNotFound(t *testing.T) {
	repo := setupFoodCards(t)

	c := newCard("ghost", models.FoodTypeTakeout, 1)
	c.ID = 999
	err := repo.Update(context.Background(), c)
	assert.True(t, apperrors.IsNotFound(err), "Update() error = %v", err)

	err = repo.Update(context.Background(), newCard("no id", models.FoodTypeTakeout, 1))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestFoodCard_GetMissingIsNotFound(t *testing.T) {
	_, err := setupFoodCards(t).GetByID(context.Background(), 42)
	assert.True(t, apperrors.IsNotFound(err))
}

// Delete removes the card and Count drops by one.
func TestFoodCard_Delete(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	keep := newCard("keep", models.FoodTypeTakeout, 1)
	drop := newCard("drop", models.FoodTypeTakeout, 1)
	_, err := repo.Insert(ctx, keep)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, drop)
	require.NoError(t, err)

	before, err := repo.Count(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, drop))

	_, err = repo.GetByID(ctx, drop.ID)
	assert.True(t, apperrors.IsNotFound(err))
	after, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-1, after)

	// deleting again is a no-op
	require.NoError(t, repo.Delete(ctx, drop))
	existed, err := repo.DeleteByID(ctx, drop.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

// DeleteByIDs ignores ids that do not exist.
func TestFoodCard_DeleteByIDs(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	x := newCard("x", models.FoodTypeTakeout, 1)
	z := newCard("z", models.FoodTypeTakeout, 1)
	_, err := repo.Insert(ctx, x)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, z)
	require.NoError(t, err)
	missing := z.ID + 100

	n, err := repo.DeleteByIDs(ctx, []int64{x.ID, missing})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID(ctx, x.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = repo.GetByID(ctx, z.ID)
	assert.NoError(t, err)

	n, err = repo.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFoodCard_DeleteByIDsLargeBatch(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	var ids []int64
	for i := 0; i < 3; i++ {
		c := newCard(fmt.Sprintf("c%d", i), models.FoodTypeTakeout, 1)
		_, err := repo.Insert(ctx, c)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	for i := int64(0); i < 1200; i++ {
		ids = append(ids, 10_000+i)
	}

	n, err := repo.DeleteByIDs(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFoodCard_ListOrdering(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	for i, name := range []string{"first", "second", "third"} {
		c := newCard(name, models.FoodTypeTakeout, 1)
		c.CreatedAt = int64(1000 + i)
		_, err := repo.Insert(ctx, c)
		require.NoError(t, err)
	}
	// same created_at as "third": the larger id sorts first
	tie := newCard("tie", models.FoodTypeHomemade, 1)
	tie.CreatedAt = 1002
	_, err := repo.Insert(ctx, tie)
	require.NoError(t, err)

	cards, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tie", "third", "second", "first"}, cardNames(cards))

	takeout, err := repo.ListByType(ctx, models.FoodTypeTakeout)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, cardNames(takeout))

	dineIn, err := repo.ListByType(ctx, models.FoodTypeDineIn)
	require.NoError(t, err)
	assert.Empty(t, dineIn)
	assert.NotNil(t, dineIn)

	_, err = repo.ListByType(ctx, "buffet")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestFoodCard_Search(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	for _, name := range []string{"Beef Noodles", "beef rice", "Chicken", "100% juice", "fish_ball"} {
		_, err := repo.Insert(ctx, newCard(name, models.FoodTypeTakeout, 1))
		require.NoError(t, err)
	}

	tests := []struct {
		q    string
		want int
	}{
		{"beef", 2},
		{"BEEF", 2},
		{"noodle", 1},
		{"%", 1},
		{"_", 1},
		{"sushi", 0},
		{"", 5},
	}
	for _, tt := range tests {
		got, err := repo.Search(ctx, tt.q)
		require.NoError(t, err)
		assert.Len(t, got, tt.want, "Search(%q) = %v", tt.q, cardNames(got))
	}
}

func TestFoodCard_ImageRefs(t *testing.T) {
	ctx := context.Background()
	repo := setupFoodCards(t)

	a := newCard("a", models.FoodTypeTakeout, 1)
	b := newCard("b", models.FoodTypeTakeout, 1)
	b.ImageRef = a.ImageRef
	for _, c := range []*models.FoodCard{a, b, newCard("c", models.FoodTypeTakeout, 1)} {
		_, err := repo.Insert(ctx, c)
		require.NoError(t, err)
	}

	refs, err := repo.ImageRefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"images/ab/a.jpg": true, "images/ab/c.jpg": true}, refs)
}

func TestFoodCard_WatchAllFollowsWrites(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo := setupFoodCards(t)

	sub := repo.WatchAll(ctx)
	defer sub.Close()

	cards, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, cards)

	c := newCard("soup", models.FoodTypeHomemade, 8)
	_, err = repo.Insert(ctx, c)
	require.NoError(t, err)

	cards = nextMatching(t, ctx, sub.Next, func(cards []*models.FoodCard) bool { return len(cards) == 1 })
	assert.Equal(t, "soup", cards[0].Name)

	require.NoError(t, repo.Delete(ctx, c))
	nextMatching(t, ctx, sub.Next, func(cards []*models.FoodCard) bool { return len(cards) == 0 })
}

func TestFoodCard_WatchSearchAndType(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo := setupFoodCards(t)

	search := repo.WatchSearch(ctx, "tea")
	defer search.Close()
	byType := repo.WatchByType(ctx, models.FoodTypeTakeout)
	defer byType.Close()
	count := repo.WatchCount(ctx)
	defer count.Close()

	_, err := repo.Insert(ctx, newCard("milk tea", models.FoodTypeTakeout, 5))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, newCard("coffee", models.FoodTypeHomemade, 5))
	require.NoError(t, err)

	nextMatching(t, ctx, search.Next, func(c []*models.FoodCard) bool { return len(c) == 1 })
	nextMatching(t, ctx, byType.Next, func(c []*models.FoodCard) bool { return len(c) == 1 })
	nextMatching(t, ctx, count.Next, func(n int) bool { return n == 2 })
}

// nextMatching reads from a subscription until ok accepts a value.
func nextMatching[T any](t *testing.T, ctx context.Context, next func(context.Context) (T, error), ok func(T) bool) T {
	t.Helper()
	for {
		v, err := next(ctx)
		require.NoError(t, err)
		if ok(v) {
			return v
		}
	}
}
