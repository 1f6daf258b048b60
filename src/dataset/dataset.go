package dataset

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DateLayout 日期参数与输出使用的格式
const DateLayout = "2006-01-02"

var (
	// ErrMalformedRow 输入行不满足数据约定
	ErrMalformedRow = errors.New("malformed ride record")
	// ErrNoDataset 尚未加载数据
	ErrNoDataset = errors.New("dataset not loaded")
)

// RideRecord 一小时的骑行记录
type RideRecord struct {
	Date       time.Time // 当天0点(UTC)
	Hour       int
	Season     Season
	Weekday    Weekday
	Weather    Weather
	Casual     int
	Registered int
	Total      int
}

// Validate 检查数值约束，类别字段越界不算错误
func (r RideRecord) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrMalformedRow)
	}
	if r.Casual < 0 || r.Registered < 0 || r.Total < 0 {
		return fmt.Errorf("%w: negative count", ErrMalformedRow)
	}
	if r.Total != r.Casual+r.Registered {
		return fmt.Errorf("%w: total %d != casual %d + registered %d", ErrMalformedRow, r.Total, r.Casual, r.Registered)
	}
	return nil
}

// RowError 指明出错的数据行与列
type RowError struct {
	Row    int // 数据行号，从1开始(不含表头)
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("第%d行 %s=%q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Day 截断为UTC日期
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dataset 只读的骑行数据集，创建后不再修改
type Dataset struct {
	records  []RideRecord
	span     DateRange
	source   string
	loadedAt time.Time

	statsOnce sync.Once
	days      int
}

// New 校验并复制记录，生成数据集
func New(records []RideRecord, source string) (*Dataset, error) {
	cp := make([]RideRecord, len(records))
	for i, r := range records {
		r.Date = Day(r.Date)
		if err := r.Validate(); err != nil {
			return nil, &RowError{Row: i + 1, Column: "record", Value: r.Date.Format(DateLayout), Err: err}
		}
		cp[i] = r
	}
	return newDataset(cp, source, time.Now()), nil
}

func newDataset(records []RideRecord, source string, loadedAt time.Time) *Dataset {
	ds := &Dataset{records: records, source: source, loadedAt: loadedAt}
	for i, r := range records {
		if i == 0 || r.Date.Before(ds.span.Start) {
			ds.span.Start = r.Date
		}
		if i == 0 || r.Date.After(ds.span.End) {
			ds.span.End = r.Date
		}
	}
	return ds
}

// Len 记录数
func (d *Dataset) Len() int { return len(d.records) }

// Records 返回记录副本
func (d *Dataset) Records() []RideRecord {
	cp := make([]RideRecord, len(d.records))
	copy(cp, d.records)
	return cp
}

// Span 数据覆盖的日期范围，空数据集返回零值
func (d *Dataset) Span() DateRange { return d.span }

func (d *Dataset) Source() string { return d.source }

func (d *Dataset) LoadedAt() time.Time { return d.loadedAt }

// Days 不同日期的天数
func (d *Dataset) Days() int {
	d.statsOnce.Do(func() {
		seen := make(map[time.Time]struct{})
		for _, r := range d.records {
			seen[r.Date] = struct{}{}
		}
		d.days = len(seen)
	})
	return d.days
}

// Between 返回日期落在[start, end]内的记录(闭区间，按日期比较)
// start晚于end时返回空数据集
func (d *Dataset) Between(r DateRange) *Dataset {
	var out []RideRecord
	if !r.Empty() {
		for _, rec := range d.records {
			if r.Contains(rec.Date) {
				out = append(out, rec)
			}
		}
	}
	return newDataset(out, d.source, d.loadedAt)
}

// Store 保存当前数据集，重新加载时整体替换
type Store struct {
	current atomic.Pointer[Dataset]
}

func NewStore(ds *Dataset) *Store {
	s := &Store{}
	if ds != nil {
		s.current.Store(ds)
	}
	return s
}

// Load 返回当前数据集
func (s *Store) Load() (*Dataset, error) {
	ds := s.current.Load()
	if ds == nil {
		return nil, ErrNoDataset
	}
	return ds, nil
}

// Swap 替换数据集并返回旧值
func (s *Store) Swap(ds *Dataset) *Dataset {
	return s.current.Swap(ds)
}
