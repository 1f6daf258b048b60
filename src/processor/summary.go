// summary.go
package processor

import (
	"math"
	"time"

	"BikeShareDashboard/src/dataset"

	"gonum.org/v1/gonum/stat"
)

// Summary 页面顶部的汇总指标
type Summary struct {
	Records         int     `json:"records"`
	Days            int     `json:"days"`
	Casual          int     `json:"casual"`
	Registered      int     `json:"registered"`
	Total           int     `json:"total"`
	DailyMean       float64 `json:"daily_mean"`
	DailyStdDev     float64 `json:"daily_std_dev"`
	RegisteredShare float64 `json:"registered_share"` // 注册用户占比 0-1
	PeakHour        int     `json:"peak_hour"`
	PeakHourTotal   int     `json:"peak_hour_total"`
}

func CalculateSummary(ds *dataset.Dataset) Summary {
	return defaultAggregator.Summary(ds)
}

// Summary 计算汇总指标，空数据集返回零值
func (a *Aggregator) Summary(ds *dataset.Dataset) Summary {
	start := time.Now()
	defer func() {
		if a.observer != nil {
			a.observer.ObserveAggregation("summary", time.Since(start))
		}
	}()

	var s Summary
	if ds == nil || ds.Len() == 0 {
		return s
	}

	for _, r := range ds.Records() {
		s.Casual += r.Casual
		s.Registered += r.Registered
		s.Total += r.Total
	}
	s.Records = ds.Len()
	s.Days = ds.Days()
	if s.Total > 0 {
		s.RegisteredShare = float64(s.Registered) / float64(s.Total)
	}

	daily, _, err := groupSums(ds,
		func(r dataset.RideRecord) int { return r.Date.Year()*10000 + int(r.Date.Month())*100 + r.Date.Day() },
		func(int) bool { return true },
	)
	if err == nil && len(daily) > 0 {
		totals := make([]float64, len(daily))
		for i, d := range daily {
			totals[i] = float64(d.total)
		}
		mean, std := stat.MeanStdDev(totals, nil)
		s.DailyMean = mean
		// 只有一天时标准差无定义
		if !math.IsNaN(std) {
			s.DailyStdDev = std
		}
	}

	for _, row := range a.ByHour(ds).Rows {
		if row.Total > s.PeakHourTotal {
			s.PeakHour = row.Order
			s.PeakHourTotal = row.Total
		}
	}
	return s
}
