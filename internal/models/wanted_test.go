package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWantedPointMatchesExactly(t *testing.T) {
	wanted, err := ParseWanted("2x7")
	require.NoError(t, err)

	assert.True(t, wanted.Matches(2, 7))
	assert.False(t, wanted.Matches(2, 6))
	assert.False(t, wanted.Matches(2, 8))
	assert.False(t, wanted.Matches(1, 7))
	assert.False(t, wanted.Matches(3, 7))
}

func TestWantedRange(t *testing.T) {
	wanted, err := ParseWanted("1x1-1x3")
	require.NoError(t, err)

	assert.True(t, wanted.Matches(1, 1))
	assert.True(t, wanted.Matches(1, 2))
	assert.True(t, wanted.Matches(1, 3))
	assert.False(t, wanted.Matches(1, 4))
	assert.False(t, wanted.Matches(2, 1))
}

func TestWantedCommaList(t *testing.T) {
	wanted, err := ParseWanted("1x1, 2x3")
	require.NoError(t, err)

	assert.True(t, wanted.Matches(1, 1))
	assert.True(t, wanted.Matches(2, 3))
	assert.False(t, wanted.Matches(1, 2))
}

func TestWantedWholeSeason(t *testing.T) {
	wanted, err := ParseWanted("3")
	require.NoError(t, err)

	assert.True(t, wanted.Matches(3, 1))
	assert.True(t, wanted.Matches(3, 99))
	assert.False(t, wanted.Matches(2, 1))
}

func TestWantedEmptyMatchesAll(t *testing.T) {
	wanted, err := ParseWanted("")
	require.NoError(t, err)
	assert.True(t, wanted.Matches(9, 9))
}

func TestWantedErrors(t *testing.T) {
	_, err := ParseWanted("abc")
	assert.Error(t, err)

	_, err = ParseWanted("1x3-1x1")
	assert.Error(t, err)

	_, err = ParseWanted("1xbad")
	assert.Error(t, err)
}

func TestWantedFilter(t *testing.T) {
	wanted, err := ParseWanted("1x1-1x3")
	require.NoError(t, err)

	episodes := []Episode{
		{ID: "a", Season: 1, Number: 1},
		{ID: "b", Season: 1, Number: 2},
		{ID: "c", Season: 1, Number: 4},
		{ID: "d", Season: 2, Number: 1},
	}
	got := wanted.Filter(episodes)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
