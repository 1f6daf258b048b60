package dataset

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rec(day string, hour int, casual, registered int) RideRecord {
	d := date(day)
	return RideRecord{
		Date:       d,
		Hour:       hour,
		Season:     Winter,
		Weekday:    WeekdayOf(d),
		Weather:    WeatherClear,
		Casual:     casual,
		Registered: registered,
		Total:      casual + registered,
	}
}

func sample(t *testing.T) *Dataset {
	t.Helper()
	ds, err := New([]RideRecord{
		rec("2011-01-03", 0, 1, 2),
		rec("2011-01-01", 0, 5, 10),
		rec("2011-01-01", 1, 3, 7),
		rec("2011-01-02", 5, 0, 4),
	}, "test.csv")
	require.NoError(t, err)
	return ds
}

func TestNewComputesSpan(t *testing.T) {
	ds := sample(t)
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, 3, ds.Days())
	assert.Equal(t, date("2011-01-01"), ds.Span().Start)
	assert.Equal(t, date("2011-01-03"), ds.Span().End)
	assert.Equal(t, "test.csv", ds.Source())
}

func TestNewRejectsMalformed(t *testing.T) {
	bad := rec("2011-01-01", 0, 1, 2)
	bad.Total = 4

	_, err := New([]RideRecord{rec("2011-01-01", 1, 1, 1), bad}, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedRow))

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 2, rowErr.Row)

	neg := rec("2011-01-01", 0, 0, 0)
	neg.Casual, neg.Total = -1, -1
	_, err = New([]RideRecord{neg}, "x")
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestRecordsIsACopy(t *testing.T) {
	ds := sample(t)
	recs := ds.Records()
	recs[0].Casual = 999
	assert.NotEqual(t, 999, ds.Records()[0].Casual)
}

func TestBetweenInclusive(t *testing.T) {
	ds := sample(t)

	got := ds.Between(NewDateRange(date("2011-01-01"), date("2011-01-02")))
	assert.Equal(t, 3, got.Len())

	// 同一天
	day := ds.Between(NewDateRange(date("2011-01-01"), date("2011-01-01")))
	require.Equal(t, 2, day.Len())
	for _, r := range day.Records() {
		assert.Equal(t, date("2011-01-01"), r.Date)
	}

	// 时间部分不影响比较
	withClock := DateRange{Start: date("2011-01-03").Add(15 * time.Hour), End: date("2011-01-03").Add(time.Hour)}
	assert.Equal(t, 1, ds.Between(withClock).Len())
}

func TestBetweenEmptyRanges(t *testing.T) {
	ds := sample(t)

	reversed := ds.Between(NewDateRange(date("2011-01-03"), date("2011-01-01")))
	assert.Equal(t, 0, reversed.Len())

	outside := ds.Between(NewDateRange(date("2012-01-01"), date("2012-12-31")))
	assert.Equal(t, 0, outside.Len())
	assert.Equal(t, 0, outside.Days())
	assert.True(t, outside.Span().Start.IsZero())
}

func TestParseDateRange(t *testing.T) {
	span := NewDateRange(date("2011-01-01"), date("2012-12-31"))

	r, err := ParseDateRange("", "", span)
	require.NoError(t, err)
	assert.Equal(t, span, r)

	r, err = ParseDateRange("2011-06-01", "", span)
	require.NoError(t, err)
	assert.Equal(t, date("2011-06-01"), r.Start)
	assert.Equal(t, span.End, r.End)

	_, err = ParseDateRange("06/01/2011", "", span)
	assert.Error(t, err)

	r, err = ParseDateRange("2012-01-01", "2011-01-01", span)
	require.NoError(t, err)
	assert.True(t, r.Empty())
}

func TestRangeFromFirstRepresentableDay(t *testing.T) {
	ds := sample(t)

	r, err := ParseDateRange("0001-01-01", "", ds.Span())
	require.NoError(t, err)
	assert.False(t, r.Empty())
	assert.Equal(t, 4, ds.Between(r).Len())

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"0001-01-01","end":"2011-01-03"}`, string(b))

	assert.True(t, DateRange{}.Empty())
}

func TestLastDays(t *testing.T) {
	r := LastDays(date("2011-01-31"), 7)
	assert.Equal(t, date("2011-01-25"), r.Start)
	assert.Equal(t, "[2011-01-25, 2011-01-31]", r.String())
}

func TestStore(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoDataset)

	first := sample(t)
	assert.Nil(t, s.Swap(first))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestCategories(t *testing.T) {
	assert.Equal(t, Spring, ParseSeason("spring"))
	assert.Equal(t, SeasonUnknown, ParseSeason("Springer"))
	assert.Equal(t, "Unknown", Season(9).String())
	assert.Equal(t, []Season{Spring, Summer, Fall, Winter}, Seasons())

	assert.Equal(t, Wednesday, ParseWeekday("Wed"))
	assert.Equal(t, Sunday, ParseWeekday("SUNDAY"))
	assert.Equal(t, WeekdayUnknown, ParseWeekday("Funday"))
	assert.Equal(t, Saturday, WeekdayOf(date("2011-01-01")))
	assert.Equal(t, Sunday, WeekdayOf(date("2011-01-02")))
	assert.Equal(t, Monday, WeekdayOf(date("2011-01-03")))

	assert.Equal(t, WeatherMist, ParseWeather(" 2 "))
	assert.Equal(t, WeatherClear, ParseWeather("1.0"))
	assert.False(t, ParseWeather("1.5").Valid())
	assert.False(t, ParseWeather("5").Valid())
	assert.False(t, ParseWeather("clear").Valid())
	assert.Equal(t, "3", WeatherLightPrecipitation.Code())

	assert.True(t, ValidHour(0))
	assert.False(t, ValidHour(24))
}

func TestDateRangeJSON(t *testing.T) {
	b, err := json.Marshal(NewDateRange(date("2011-01-01"), date("2011-01-31")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2011-01-01","end":"2011-01-31"}`, string(b))

	b, err = json.Marshal(DateRange{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"","end":""}`, string(b))
}
