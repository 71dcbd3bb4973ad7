package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateKey(t *testing.T) {
	key, err := DateKey("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 20240315, key)

	key, err = DateKey("1999-12-31")
	require.NoError(t, err)
	assert.Equal(t, 19991231, key)

	_, err = DateKey("03/15/2024")
	assert.Error(t, err)

	_, err = DateKey("")
	assert.Error(t, err)
}

func TestDateKeyFromTime(t *testing.T) {
	assert.Equal(t, 20240229, DateKeyFromTime(time.Date(2024, 2, 29, 13, 0, 0, 0, time.UTC)))
}

func TestIsWeekend(t *testing.T) {
	assert.False(t, IsWeekend(20240315)) // Friday
	assert.True(t, IsWeekend(20240316))  // Saturday
	assert.True(t, IsWeekend(20240317))  // Sunday
	assert.False(t, IsWeekend(20240318)) // Monday
}

func TestQuarter(t *testing.T) {
	cases := map[int]int{
		20240101: 1,
		20240331: 1,
		20240401: 2,
		20240630: 2,
		20240701: 3,
		20240930: 3,
		20241001: 4,
		20241231: 4,
	}
	for key, want := range cases {
		assert.Equal(t, want, Quarter(key), "date key %d", key)
	}
}
