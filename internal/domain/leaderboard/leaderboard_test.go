package leaderboard

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudokuhub/power-index/internal/domain/scoring"
)

func rating(user string, score float64, solved int) UserRating {
	return UserRating{UserID: user, Rating: scoring.Rating{Score: score, Solved: solved}}
}

func TestBuildLeaderboard_NormalizesToHundred(t *testing.T) {
	board := BuildLeaderboard([]UserRating{
		rating("u2", 25, 3),
		rating("u1", 50, 10),
		rating("u3", 0, 0),
	})

	require.Len(t, board, 3)
	assert.Equal(t, "u1", board[0].UserID)
	assert.InDelta(t, 100.0, board[0].NormalizedScore, 1e-9)
	assert.InDelta(t, 50.0, board[1].NormalizedScore, 1e-9)
	assert.Equal(t, 0.0, board[2].NormalizedScore)
	assert.Equal(t, 10, board[0].Solved)
	assert.Equal(t, 50.0, board[0].AdjustedScore)
}

func TestBuildLeaderboard_AllZero(t *testing.T) {
	board := BuildLeaderboard([]UserRating{rating("b", 0, 0), rating("a", 0, 0)})
	require.Len(t, board, 2)
	for _, r := range board {
		assert.Equal(t, 0.0, r.NormalizedScore)
	}
	assert.Equal(t, "a", board[0].UserID)
	assert.Equal(t, Rank(1), board[0].Rank)
	assert.Equal(t, Rank(2), board[1].Rank)

	assert.Empty(t, BuildLeaderboard(nil))
}

func TestBuildLeaderboard_SortedAndDense(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ratings := make([]UserRating, 0, 200)
	for i := 0; i < 200; i++ {
		// Много совпадений, чтобы проверить разрешение равенства.
		ratings = append(ratings, rating(fmt.Sprintf("user-%03d", i), float64(rng.Intn(20)), rng.Intn(50)))
	}

	board := BuildLeaderboard(ratings)
	require.Len(t, board, len(ratings))

	seen := make(map[Rank]bool)
	for i, r := range board {
		assert.Equal(t, Rank(i+1), r.Rank)
		assert.False(t, seen[r.Rank])
		seen[r.Rank] = true

		if i > 0 {
			prev := board[i-1]
			assert.GreaterOrEqual(t, prev.NormalizedScore, r.NormalizedScore)
			if prev.NormalizedScore == r.NormalizedScore {
				assert.Less(t, prev.UserID, r.UserID)
			}
		}
	}
}

func TestBuildLeaderboard_TiesGetDistinctRanks(t *testing.T) {
	board := BuildLeaderboard([]UserRating{rating("c", 10, 1), rating("a", 10, 1), rating("b", 10, 1)})
	assert.Equal(t, []string{"a", "b", "c"}, []string{board[0].UserID, board[1].UserID, board[2].UserID})
	assert.Equal(t, []Rank{1, 2, 3}, []Rank{board[0].Rank, board[1].Rank, board[2].Rank})
}

func TestAssignRanks_PureAndConsistentWithBuild(t *testing.T) {
	snapshot := []Entry{
		{UserID: "d", Score: 0, Rank: 1},
		{UserID: "b", Score: 7.5, Rank: 3},
		{UserID: "a", Score: 7.5},
		{UserID: "c", Score: 52.6, Rank: 2},
	}
	original := append([]Entry(nil), snapshot...)

	got := AssignRanks(snapshot)
	assert.Equal(t, original, snapshot, "input must not be mutated")

	want := []RankAssignment{
		{UserID: "c", PreviousRank: 2, Rank: 1},
		{UserID: "a", PreviousRank: Unranked, Rank: 2},
		{UserID: "b", PreviousRank: 3, Rank: 3},
		{UserID: "d", PreviousRank: 1, Rank: 4},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, CountChanged(got))

	ratings := make([]UserRating, len(snapshot))
	for i, e := range snapshot {
		ratings[i] = rating(e.UserID, e.Score, e.Solved)
	}
	for i, r := range BuildLeaderboard(ratings) {
		assert.Equal(t, got[i].UserID, r.UserID)
		assert.Equal(t, got[i].Rank, r.Rank)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(10, 0))
	assert.Equal(t, 100.0, Normalize(10, 10))
	assert.Equal(t, 25.0, Normalize(2.5, 10))
	assert.Equal(t, 33.33, RoundScore(Normalize(1, 3)))
}

func TestNewStanding(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewStanding("u1", scoring.Rating{Score: 1.5, Solved: 2}, at)
	require.NoError(t, err)
	assert.Equal(t, Standing{UserID: "u1", Score: 1.5, Solved: 2, UpdatedAt: at}, s)

	_, err = NewStanding("", scoring.Rating{}, at)
	assert.ErrorIs(t, err, ErrInvalidUserID)

	_, err = NewStanding("u1", scoring.Rating{Score: -1}, at)
	assert.ErrorIs(t, err, ErrInvalidScore)
}

func TestRank(t *testing.T) {
	assert.Equal(t, "-", Unranked.String())
	assert.Equal(t, "#3", Rank(3).String())
	assert.True(t, Rank(3).IsTop(3))
	assert.False(t, Rank(4).IsTop(3))
	assert.False(t, Unranked.IsTop(3))
}

func TestParseSortField(t *testing.T) {
	tests := []struct {
		in   string
		want SortField
		err  error
	}{
		{"", SortByRank, nil},
		{"rank", SortByRank, nil},
		{" Username ", SortByUsername, nil},
		{"score", SortByScore, nil},
		{"solved", SortBySolved, nil},
		{"updated_at", "", ErrInvalidSortField},
	}
	for _, tt := range tests {
		got, err := ParseSortField(tt.in)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, SortDesc, ParseSortOrder("DESC"))
	assert.Equal(t, SortAsc, ParseSortOrder("sideways"))
}

func testBoard() *Board {
	return NewBoard([]Entry{
		{UserID: "u4", Username: "dave", Score: 0, Solved: 0},
		{UserID: "u2", Username: "Bob", Score: 40, Solved: 12, Rank: 2},
		{UserID: "u1", Username: "alice", Score: 80, Solved: 5, Rank: 1},
		{UserID: "u3", Username: "bobby", Score: 10, Solved: 30, Rank: 3},
	}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestBoard_OrderAndSPI(t *testing.T) {
	b := testBoard()
	require.Equal(t, 4, b.Count())
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, userIDs(b.Entries))
	assert.Equal(t, 80.0, b.MaxScore)
	assert.Equal(t, 100.0, b.SPI(b.Entries[0]))
	assert.Equal(t, 50.0, b.SPI(b.Entries[1]))
	assert.Equal(t, 12.5, b.SPI(b.Entries[2]))

	assert.Equal(t, []string{"u1", "u2", "u3"}, userIDs(b.Top(PodiumSize)))
	assert.Equal(t, []string{"u2", "u3", "u4"}, userIDs(b.Neighbors("u3", 1)))
	assert.Nil(t, b.Neighbors("missing", 1))
	assert.Nil(t, b.Get("missing"))
	assert.Equal(t, "Bob", b.Get("u2").Username)
}

func TestBoard_Query(t *testing.T) {
	b := testBoard()

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"default rank asc", DefaultListOptions(), []string{"u1", "u2", "u3", "u4"}},
		{"rank desc", ListOptions{SortBy: SortByRank, Order: SortDesc, Page: 1, PageSize: 25}, []string{"u4", "u3", "u2", "u1"}},
		{"search case-insensitive", ListOptions{Search: "BOB", Page: 1, PageSize: 25}, []string{"u2", "u3"}},
		{"solved desc", ListOptions{SortBy: SortBySolved, Order: SortDesc, Page: 1, PageSize: 25}, []string{"u3", "u2", "u1", "u4"}},
		{"score asc", ListOptions{SortBy: SortByScore, Order: SortAsc, Page: 1, PageSize: 25}, []string{"u4", "u3", "u2", "u1"}},
		{"username asc", ListOptions{SortBy: SortByUsername, Page: 1, PageSize: 25}, []string{"u1", "u2", "u3", "u4"}},
		{"second page", ListOptions{Page: 2, PageSize: 3}, []string{"u4"}},
		{"past the end", ListOptions{Page: 9, PageSize: 3}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := b.Query(tt.opts)
			assert.Equal(t, tt.want, userIDs(page.Items))
		})
	}

	page := b.Query(ListOptions{Page: 1, PageSize: 3})
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext())
}

func TestListOptions(t *testing.T) {
	o := DefaultListOptions().WithPage(0).WithPageSize(1000)
	assert.Equal(t, 1, o.Page)
	assert.Equal(t, MaxPageSize, o.PageSize)

	o = DefaultListOptions().WithPage(3)
	assert.Equal(t, 50, o.Offset())
	assert.Equal(t, DefaultPageSize, o.Limit())

	assert.Equal(t, math.MaxInt, DefaultListOptions().WithPage(737869762948382065).Offset())
	assert.Equal(t, math.MaxInt, DefaultListOptions().WithPage(math.MaxInt).Offset())
}

func TestBoard_QueryOutOfRangePages(t *testing.T) {
	b := testBoard()

	for _, page := range []int{math.MinInt, -1, 0, 1, 2, 737869762948382065, math.MaxInt} {
		t.Run(fmt.Sprint(page), func(t *testing.T) {
			var got Page
			require.NotPanics(t, func() { got = b.Query(ListOptions{Page: page, PageSize: DefaultPageSize}) })
			assert.Equal(t, 4, got.Total)
			if page <= 1 {
				assert.Len(t, got.Items, 4)
			} else {
				assert.Empty(t, got.Items)
				assert.False(t, got.HasNext())
			}
		})
	}
}

func TestBoard_NeighborsRangeIsClamped(t *testing.T) {
	b := testBoard()

	tests := []struct {
		name      string
		rangeSize int
		want      []string
	}{
		{"zero", 0, []string{"u2"}},
		{"negative", -5, []string{"u2"}},
		{"min int", math.MinInt, []string{"u2"}},
		{"wider than board", 10, []string{"u1", "u2", "u3", "u4"}},
		{"max int", math.MaxInt, []string{"u1", "u2", "u3", "u4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Entry
			require.NotPanics(t, func() { got = b.Neighbors("u2", tt.rangeSize) })
			assert.Equal(t, tt.want, userIDs(got))
		})
	}
}

func userIDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserID
	}
	return out
}
