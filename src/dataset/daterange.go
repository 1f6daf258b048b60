package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateRange 闭区间日期范围
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Empty start晚于end或两端均未设置时为空
// 单独一端为0001-01-01是合法的下界
func (r DateRange) Empty() bool {
	return r.unset() || Day(r.Start).After(Day(r.End))
}

func (r DateRange) unset() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains 按日期比较，忽略时分秒
func (r DateRange) Contains(t time.Time) bool {
	day := Day(t)
	return !day.Before(Day(r.Start)) && !day.After(Day(r.End))
}

// LastDays 以end为最后一天的n天
func LastDays(end time.Time, n int) DateRange {
	end = Day(end)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

func (r DateRange) String() string {
	if r.unset() {
		return "[]"
	}
	return fmt.Sprintf("[%s, %s]", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// MarshalJSON 输出YYYY-MM-DD，零值区间为空串
func (r DateRange) MarshalJSON() ([]byte, error) {
	body := struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{}
	if !r.unset() {
		body.Start, body.End = r.Start.Format(DateLayout), r.End.Format(DateLayout)
	}
	return json.Marshal(body)
}

// ParseDateRange 解析YYYY-MM-DD，缺省的一端取span对应端
func ParseDateRange(start, end string, span DateRange) (DateRange, error) {
	r := span
	if s := strings.TrimSpace(start); s != "" {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid start date %q: %w", s, err)
		}
		r.Start = t
	}
	if s := strings.TrimSpace(end); s != "" {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid end date %q: %w", s, err)
		}
		r.End = t
	}
	return NewDateRange(r.Start, r.End), nil
}
