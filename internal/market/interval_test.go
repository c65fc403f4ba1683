package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("1d")
	require.NoError(t, err)
	assert.Equal(t, "1d", iv.Key)
	assert.Equal(t, 24*time.Hour, iv.Duration)

	_, err = ParseInterval("2d")
	assert.Error(t, err)
}

func TestParseIntervalAliases(t *testing.T) {
	for alias, want := range map[string]string{
		"60m":   "1h",
		"1wk":   "1w",
		"1mo":   "1M",
		"daily": "1d",
	} {
		iv, err := ParseInterval(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, iv.Key, alias)
	}
}

func TestParseIntervalMinuteVersusMonth(t *testing.T) {
	minute, err := ParseInterval("1m")
	require.NoError(t, err)
	month, err := ParseInterval("1M")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, minute.Duration)
	assert.NotEqual(t, minute.Key, month.Key)
}

func TestAlignRange(t *testing.T) {
	iv, _ := ParseInterval("1d")
	day := int64(24 * time.Hour / time.Millisecond)
	start, end := iv.AlignRange(day+5, 3*day+100)
	assert.Equal(t, day, start)
	// end 扩展到所在桶的最后一毫秒
	assert.Equal(t, 4*day-1, end)

	// 颠倒的区间会被纠正
	start, end = iv.AlignRange(3*day, day)
	assert.Equal(t, day, start)
	assert.Equal(t, 4*day-1, end)
}

func TestExpectedBars(t *testing.T) {
	iv, _ := ParseInterval("1h")
	hour := int64(time.Hour / time.Millisecond)
	assert.Equal(t, int64(3), iv.ExpectedBars(0, 2*hour))
	assert.Equal(t, int64(0), iv.ExpectedBars(hour, 0))
}

func TestSupportedIntervalsSorted(t *testing.T) {
	keys := SupportedIntervals()
	assert.Contains(t, keys, "1d")
	assert.Contains(t, keys, "1M")
	assert.Len(t, keys, 9)
}
