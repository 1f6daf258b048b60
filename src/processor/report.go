// report.go
package processor

import (
	"fmt"
	"io"
	"strings"
	"time"

	"BikeShareDashboard/src/dataset"
	"BikeShareDashboard/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Report 某一日期范围内的汇总与全部视图
type Report struct {
	Range       dataset.DateRange `json:"range"`
	Source      string            `json:"source"`
	GeneratedAt time.Time         `json:"generated_at"`
	Summary     Summary           `json:"summary"`
	Views       []View            `json:"views"`
}

// BuildReport 先按日期过滤再计算
func (a *Aggregator) BuildReport(ds *dataset.Dataset, r dataset.DateRange) Report {
	filtered := ds.Between(r)
	rep := Report{
		Range:       r,
		Source:      ds.Source(),
		GeneratedAt: time.Now(),
		Summary:     a.Summary(filtered),
	}
	for _, dim := range Dimensions() {
		v, _ := a.Aggregate(filtered, dim)
		rep.Views = append(rep.Views, v)
	}
	return rep
}

// View 按维度取视图
func (r Report) View(dim Dimension) (View, bool) {
	for _, v := range r.Views {
		if v.Dimension == dim {
			return v, true
		}
	}
	return View{}, false
}

// Sheets 导出用：汇总表加每个维度一个工作表
func (r Report) Sheets() []utils.Sheet {
	sheets := []utils.Sheet{{Name: "Summary", Data: r.summaryFrame()}}
	for _, v := range r.Views {
		sheets = append(sheets, utils.Sheet{Name: sheetName(v.Dimension), Data: v.Frame()})
	}
	return sheets
}

// WriteExcel 写出xlsx报表
func (r Report) WriteExcel(w io.Writer) error {
	if err := utils.WriteExcel(w, r.Sheets()...); err != nil {
		return fmt.Errorf("导出报表失败: %w", err)
	}
	return nil
}

// SaveExcel 保存xlsx报表到文件
func (r Report) SaveExcel(path string) error {
	if err := utils.SaveToExcel(path, r.Sheets()...); err != nil {
		return fmt.Errorf("保存报表失败: %w", err)
	}
	return nil
}

func (r Report) summaryFrame() dataframe.DataFrame {
	s := r.Summary
	peak := "-"
	if s.Records > 0 {
		peak = fmt.Sprintf("%02d:00", s.PeakHour)
	}
	metrics := []string{
		"Start", "End", "Records", "Days", "Casual Users", "Registered Users", "Total Users",
		"Daily Mean", "Daily Std Dev", "Registered Share", "Peak Hour",
	}
	values := []string{
		dateOrDash(r.Range.Start), dateOrDash(r.Range.End),
		fmt.Sprint(s.Records), fmt.Sprint(s.Days),
		fmt.Sprint(s.Casual), fmt.Sprint(s.Registered), fmt.Sprint(s.Total),
		fmt.Sprintf("%.2f", s.DailyMean), fmt.Sprintf("%.2f", s.DailyStdDev),
		fmt.Sprintf("%.2f%%", s.RegisteredShare*100), peak,
	}
	return dataframe.New(
		series.New(metrics, series.String, "Metric"),
		series.New(values, series.String, "Value"),
	)
}

// Frame 视图转为DataFrame，列顺序固定
func (v View) Frame() dataframe.DataFrame {
	labels := make([]string, len(v.Rows))
	casual := make([]int, len(v.Rows))
	registered := make([]int, len(v.Rows))
	total := make([]int, len(v.Rows))
	for i, row := range v.Rows {
		labels[i] = row.Label
		casual[i] = row.Casual
		registered[i] = row.Registered
		total[i] = row.Total
	}
	return dataframe.New(
		series.New(labels, series.String, sheetName(v.Dimension)),
		series.New(casual, series.Int, "Casual Users"),
		series.New(registered, series.Int, "Registered Users"),
		series.New(total, series.Int, "Total Users"),
	)
}

func sheetName(dim Dimension) string {
	s := string(dim)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func dateOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dataset.DateLayout)
}
