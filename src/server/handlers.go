package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"BikeShareDashboard/src/dataset"
	"BikeShareDashboard/src/processor"

	"github.com/gorilla/mux"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// rangeResponse /api/range
type rangeResponse struct {
	Span     dataset.DateRange `json:"span"`
	Records  int               `json:"records"`
	Days     int               `json:"days"`
	Source   string            `json:"source"`
	LoadedAt time.Time         `json:"loaded_at"`
}

type summaryResponse struct {
	Range   dataset.DateRange `json:"range"`
	Summary processor.Summary `json:"summary"`
}

type viewResponse struct {
	Range dataset.DateRange `json:"range"`
	processor.View
}

type legendEntry struct {
	Code        string
	Label       string
	Description string
}

type indexData struct {
	Title      string
	Start      string
	End        string
	Loaded     bool
	Dimensions []processor.Dimension
	Legend     []legendEntry
}

// currentDataset 未加载数据时返回503
func (c *Controller) currentDataset(w http.ResponseWriter, req *http.Request) (*dataset.Dataset, bool) {
	ds, err := c.store.Load()
	if err != nil {
		c.formatter.WriteError(w, req, http.StatusServiceUnavailable, err)
		return nil, false
	}
	return ds, true
}

// requestRange 解析start/end参数，缺省取数据集范围；格式错误返回400
func (c *Controller) requestRange(w http.ResponseWriter, req *http.Request, ds *dataset.Dataset) (dataset.DateRange, bool) {
	q := req.URL.Query()
	r, err := dataset.ParseDateRange(q.Get("start"), q.Get("end"), ds.Span())
	if err != nil {
		c.formatter.WriteError(w, req, http.StatusBadRequest, err)
		return dataset.DateRange{}, false
	}
	return r, true
}

// GetRange 数据集的日期范围与基本信息
func (c *Controller) GetRange(w http.ResponseWriter, req *http.Request) {
	ds, ok := c.currentDataset(w, req)
	if !ok {
		return
	}
	c.formatter.WriteResponse(w, req, http.StatusOK, rangeResponse{
		Span:     ds.Span(),
		Records:  ds.Len(),
		Days:     ds.Days(),
		Source:   ds.Source(),
		LoadedAt: ds.LoadedAt(),
	})
}

func (c *Controller) GetSummary(w http.ResponseWriter, req *http.Request) {
	ds, ok := c.currentDataset(w, req)
	if !ok {
		return
	}
	r, ok := c.requestRange(w, req, ds)
	if !ok {
		return
	}
	c.formatter.WriteResponse(w, req, http.StatusOK, summaryResponse{
		Range:   r,
		Summary: c.aggregator.Summary(ds.Between(r)),
	})
}

// GetView 单个维度，未知维度返回404
func (c *Controller) GetView(w http.ResponseWriter, req *http.Request) {
	dim, err := processor.ParseDimension(mux.Vars(req)["dimension"])
	if err != nil {
		c.formatter.WriteError(w, req, http.StatusNotFound, err)
		return
	}
	ds, ok := c.currentDataset(w, req)
	if !ok {
		return
	}
	r, ok := c.requestRange(w, req, ds)
	if !ok {
		return
	}
	v, err := c.aggregator.Aggregate(ds.Between(r), dim)
	if err != nil {
		c.formatter.WriteError(w, req, http.StatusNotFound, err)
		return
	}
	c.formatter.WriteResponse(w, req, http.StatusOK, viewResponse{Range: r, View: v})
}

// GetReport 汇总加全部视图，页面一次取完
func (c *Controller) GetReport(w http.ResponseWriter, req *http.Request) {
	ds, ok := c.currentDataset(w, req)
	if !ok {
		return
	}
	r, ok := c.requestRange(w, req, ds)
	if !ok {
		return
	}
	c.formatter.WriteResponse(w, req, http.StatusOK, c.aggregator.BuildReport(ds, r))
}

// ExportReport 下载xlsx报表
func (c *Controller) ExportReport(w http.ResponseWriter, req *http.Request) {
	ds, ok := c.currentDataset(w, req)
	if !ok {
		return
	}
	r, ok := c.requestRange(w, req, ds)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := c.aggregator.BuildReport(ds, r).WriteExcel(&buf); err != nil {
		c.logger.Error("导出报表失败: " + err.Error())
		c.formatter.WriteError(w, req, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ExportFileName(r)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ExportFileName 报表文件名
func ExportFileName(r dataset.DateRange) string {
	if r.Empty() {
		return "bikeshare_empty.xlsx"
	}
	return fmt.Sprintf("bikeshare_%s_%s.xlsx", r.Start.Format("20060102"), r.End.Format("20060102"))
}

// Health 存活检查，同时返回数据是否已加载
func (c *Controller) Health(w http.ResponseWriter, req *http.Request) {
	body := map[string]any{"status": "ok", "dataset_loaded": false}
	if ds, err := c.store.Load(); err == nil {
		body["dataset_loaded"] = true
		body["records"] = ds.Len()
	}
	c.formatter.WriteResponse(w, req, http.StatusOK, body)
}

// StreamLogs 实时输出日志，客户端断开后退订
func (c *Controller) StreamLogs(w http.ResponseWriter, req *http.Request) {
	// 设置响应头
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// 长连接不受WriteTimeout限制
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	// 创建日志订阅通道
	logChan := c.logger.Subscribe()
	defer c.logger.Unsubscribe(logChan)

	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			// 写入失败(客户端断开连接)时退出
			if _, err := fmt.Fprintln(w, msg); err != nil {
				return
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return
			}
		case <-req.Context().Done():
			return
		}
	}
}

// ServeIndex 渲染仪表盘页面
func (c *Controller) ServeIndex(w http.ResponseWriter, req *http.Request) {
	data := indexData{
		Title:      c.cfg.HTTP.Title,
		Dimensions: processor.Dimensions(),
	}
	if ds, err := c.store.Load(); err == nil {
		data.Loaded = ds.Len() > 0
		if data.Loaded {
			data.Start = ds.Span().Start.Format(dataset.DateLayout)
			data.End = ds.Span().End.Format(dataset.DateLayout)
		}
	}
	for _, wc := range dataset.WeatherConditions() {
		data.Legend = append(data.Legend, legendEntry{
			Code:        wc.Code(),
			Label:       wc.String(),
			Description: c.dcfg.GetWeatherDesc(wc.Code()),
		})
	}

	var buf bytes.Buffer
	if err := c.index.Execute(&buf, data); err != nil {
		c.logger.Error("渲染页面失败: " + err.Error())
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
