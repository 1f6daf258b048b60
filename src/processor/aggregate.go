// aggregate.go
package processor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/dataset"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Dimension 聚合维度
type Dimension string

const (
	DimMonth   Dimension = "month"
	DimSeason  Dimension = "season"
	DimWeekday Dimension = "weekday"
	DimHour    Dimension = "hour"
	DimWeather Dimension = "weather"
)

// ErrUnknownDimension 不支持的聚合维度
var ErrUnknownDimension = errors.New("unknown dimension")

// Dimensions 页面展示顺序
func Dimensions() []Dimension {
	return []Dimension{DimMonth, DimSeason, DimWeekday, DimHour, DimWeather}
}

// ParseDimension 不区分大小写
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Dimensions() {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// AggregateRow 一个分组的用户数合计，Total == Casual + Registered
type AggregateRow struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order"`
	Casual      int    `json:"casual"`
	Registered  int    `json:"registered"`
	Total       int    `json:"total"`
}

// View 某一维度的聚合结果
type View struct {
	Dimension Dimension      `json:"dimension"`
	Rows      []AggregateRow `json:"rows"`
	Excluded  int            `json:"excluded"` // 该维度取值无效而未计入的记录数
}

// Totals 各行合计
func (v View) Totals() (casual, registered, total int) {
	for _, r := range v.Rows {
		casual += r.Casual
		registered += r.Registered
		total += r.Total
	}
	return
}

// Observer 接收每次聚合耗时
type Observer interface {
	ObserveAggregation(dim string, d time.Duration)
}

// Aggregator 将数据集转换为各维度视图，不修改输入
type Aggregator struct {
	dcfg     *config.DataConfig
	observer Observer
}

func NewAggregator(dcfg *config.DataConfig, observer Observer) *Aggregator {
	if dcfg == nil {
		dcfg = config.DefaultDataConfig()
	}
	return &Aggregator{dcfg: dcfg, observer: observer}
}

var defaultAggregator = NewAggregator(nil, nil)

func ByMonth(ds *dataset.Dataset) View   { return defaultAggregator.ByMonth(ds) }
func BySeason(ds *dataset.Dataset) View  { return defaultAggregator.BySeason(ds) }
func ByWeekday(ds *dataset.Dataset) View { return defaultAggregator.ByWeekday(ds) }
func ByHour(ds *dataset.Dataset) View    { return defaultAggregator.ByHour(ds) }
func ByWeather(ds *dataset.Dataset) View { return defaultAggregator.ByWeather(ds) }

// Aggregate 按维度名分发
func (a *Aggregator) Aggregate(ds *dataset.Dataset, dim Dimension) (View, error) {
	switch dim {
	case DimMonth:
		return a.ByMonth(ds), nil
	case DimSeason:
		return a.BySeason(ds), nil
	case DimWeekday:
		return a.ByWeekday(ds), nil
	case DimHour:
		return a.ByHour(ds), nil
	case DimWeather:
		return a.ByWeather(ds), nil
	default:
		return View{}, fmt.Errorf("%w: %q", ErrUnknownDimension, dim)
	}
}

// ByMonth 按年月分组，时间顺序
func (a *Aggregator) ByMonth(ds *dataset.Dataset) View {
	return a.view(ds, DimMonth,
		func(r dataset.RideRecord) int { return r.Date.Year()*100 + int(r.Date.Month()) },
		func(int) bool { return true },
		func(key int) (string, string, string) {
			t := time.Date(key/100, time.Month(key%100), 1, 0, 0, 0, 0, time.UTC)
			return t.Format("2006-01"), t.Format("Jan-06"), ""
		})
}

// BySeason 按季节分组，顺序为 Spring, Summer, Fall, Winter
func (a *Aggregator) BySeason(ds *dataset.Dataset) View {
	return a.view(ds, DimSeason,
		func(r dataset.RideRecord) int { return int(r.Season) },
		func(key int) bool { return dataset.Season(key).Valid() },
		func(key int) (string, string, string) {
			name := dataset.Season(key).String()
			return strings.ToLower(name), name, ""
		})
}

// ByWeekday 按星期分组，周一到周日
func (a *Aggregator) ByWeekday(ds *dataset.Dataset) View {
	return a.view(ds, DimWeekday,
		func(r dataset.RideRecord) int { return int(r.Weekday) },
		func(key int) bool { return dataset.Weekday(key).Valid() },
		func(key int) (string, string, string) {
			name := dataset.Weekday(key).String()
			return strings.ToLower(name), name, ""
		})
}

// ByHour 按小时分组，0-23升序
func (a *Aggregator) ByHour(ds *dataset.Dataset) View {
	return a.view(ds, DimHour,
		func(r dataset.RideRecord) int { return r.Hour },
		dataset.ValidHour,
		func(key int) (string, string, string) {
			return strconv.Itoa(key), fmt.Sprintf("%02d:00", key), ""
		})
}

// ByWeather 按天气代码升序
func (a *Aggregator) ByWeather(ds *dataset.Dataset) View {
	return a.view(ds, DimWeather,
		func(r dataset.RideRecord) int { return int(r.Weather) },
		func(key int) bool { return dataset.Weather(key).Valid() },
		func(key int) (string, string, string) {
			w := dataset.Weather(key)
			return w.Code(), w.String(), a.dcfg.GetWeatherDesc(w.Code())
		})
}

func (a *Aggregator) view(
	ds *dataset.Dataset,
	dim Dimension,
	keyOf func(dataset.RideRecord) int,
	valid func(int) bool,
	label func(int) (key, label, desc string),
) View {
	start := time.Now()
	defer func() {
		if a.observer != nil {
			a.observer.ObserveAggregation(string(dim), time.Since(start))
		}
	}()

	v := View{Dimension: dim, Rows: []AggregateRow{}}
	sums, excluded, err := groupSums(ds, keyOf, valid)
	if err != nil {
		// 输入已在加载时校验，这里只会是DataFrame内部错误
		panic(fmt.Errorf("aggregate %s: %w", dim, err))
	}
	v.Excluded = excluded
	for _, s := range sums {
		key, lbl, desc := label(s.key)
		v.Rows = append(v.Rows, AggregateRow{
			Key:         key,
			Label:       lbl,
			Description: desc,
			Order:       s.key,
			Casual:      s.casual,
			Registered:  s.registered,
			Total:       s.total,
		})
	}
	return v
}

// 投影后DataFrame的列名
const (
	colKey        = "key"
	colCasual     = "casual"
	colRegistered = "registered"
	colTotal      = "total"
)

type groupSum struct {
	key        int
	casual     int
	registered int
	total      int
}

// groupSums 用gota分组求和，结果按key升序
// 返回因key无效被排除的记录数
func groupSums(ds *dataset.Dataset, keyOf func(dataset.RideRecord) int, valid func(int) bool) ([]groupSum, int, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, 0, nil
	}

	df := projectFrame(ds, keyOf)
	if df.Err != nil {
		return nil, 0, df.Err
	}

	kept := df.Filter(dataframe.F{
		Colname:    colKey,
		Comparator: series.CompFunc,
		Comparando: func(el series.Element) bool {
			n, err := el.Int()
			return err == nil && valid(n)
		},
	})
	if kept.Err != nil {
		return nil, 0, kept.Err
	}
	excluded := df.Nrow() - kept.Nrow()
	// 空分组时gota的Aggregation会越界
	if kept.Nrow() == 0 {
		return nil, excluded, nil
	}

	groups := kept.GroupBy(colKey)
	if groups.Err != nil {
		return nil, 0, groups.Err
	}
	agg := groups.Aggregation(
		[]dataframe.AggregationType{dataframe.Aggregation_SUM, dataframe.Aggregation_SUM, dataframe.Aggregation_SUM},
		[]string{colCasual, colRegistered, colTotal},
	)
	if agg.Err != nil {
		return nil, 0, agg.Err
	}

	keys, err := agg.Col(colKey).Int()
	if err != nil {
		return nil, 0, err
	}
	casual := agg.Col(colCasual + "_SUM").Float()
	registered := agg.Col(colRegistered + "_SUM").Float()
	total := agg.Col(colTotal + "_SUM").Float()

	out := make([]groupSum, len(keys))
	for i, k := range keys {
		out[i] = groupSum{
			key:        k,
			casual:     int(math.Round(casual[i])),
			registered: int(math.Round(registered[i])),
			total:      int(math.Round(total[i])),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, excluded, nil
}

// projectFrame 数据集投影为 key/casual/registered/total 四列
func projectFrame(ds *dataset.Dataset, keyOf func(dataset.RideRecord) int) dataframe.DataFrame {
	recs := ds.Records()
	keys := make([]int, len(recs))
	casual := make([]int, len(recs))
	registered := make([]int, len(recs))
	total := make([]int, len(recs))
	for i, r := range recs {
		keys[i] = keyOf(r)
		casual[i] = r.Casual
		registered[i] = r.Registered
		total[i] = r.Total
	}
	return dataframe.New(
		series.New(keys, series.Int, colKey),
		series.New(casual, series.Int, colCasual),
		series.New(registered, series.Int, colRegistered),
		series.New(total, series.Int, colTotal),
	)
}
