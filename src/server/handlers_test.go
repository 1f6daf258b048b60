package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/dataset"
	"BikeShareDashboard/src/metrics"
	"BikeShareDashboard/src/processor"
	"BikeShareDashboard/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xuri/excelize/v2"
)

func ride(date string, hour int, season dataset.Season, casual, registered int) dataset.RideRecord {
	d, err := time.Parse(dataset.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return dataset.RideRecord{
		Date:       d,
		Hour:       hour,
		Season:     season,
		Weekday:    dataset.WeekdayOf(d),
		Weather:    dataset.WeatherClear,
		Casual:     casual,
		Registered: registered,
		Total:      casual + registered,
	}
}

func newTestController(t *testing.T, ds *dataset.Dataset) (*Controller, *storage.Logger) {
	t.Helper()
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "test.log"))
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	cfg := &config.Config{}
	cfg.HTTP.Title = "Test Dashboard"

	c, err := NewController(Options{
		Config:  cfg,
		Store:   dataset.NewStore(ds),
		Logger:  logger,
		Metrics: metrics.NewRecorder(),
	})
	require.NoError(t, err)
	return c, logger
}

func sampleDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]dataset.RideRecord{
		ride("2011-01-01", 0, dataset.Winter, 5, 10),
		ride("2011-01-02", 8, dataset.Winter, 3, 7),
		ride("2011-04-01", 8, dataset.Spring, 2, 20),
	}, "hour.csv")
	require.NoError(t, err)
	return ds
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestGetRange(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	rec := get(t, c.Handler(), "/api/range")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var body struct {
		Span struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"span"`
		Records int    `json:"records"`
		Days    int    `json:"days"`
		Source  string `json:"source"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "2011-01-01", body.Span.Start)
	assert.Equal(t, "2011-04-01", body.Span.End)
	assert.Equal(t, 3, body.Records)
	assert.Equal(t, 3, body.Days)
	assert.Equal(t, "hour.csv", body.Source)
}

func TestGetViewSeasonWithRange(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	rec := get(t, c.Handler(), "/api/views/season?start=2011-01-01&end=2011-01-31")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Dimension string                   `json:"dimension"`
		Rows      []processor.AggregateRow `json:"rows"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "season", body.Dimension)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "Winter", body.Rows[0].Label)
	assert.Equal(t, 8, body.Rows[0].Casual)
	assert.Equal(t, 17, body.Rows[0].Registered)
	assert.Equal(t, 25, body.Rows[0].Total)
}

func TestErrorStatuses(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	h := c.Handler()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/summary?start=01/02/2011").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/report?end=tomorrow").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/views/temperature").Code)

	rec := get(t, h, "/api/views/year")
	var body map[string]string
	decode(t, rec, &body)
	assert.Contains(t, body["error"], "unknown dimension")

	empty, _ := newTestController(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, empty.Handler(), "/api/report").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, empty.Handler(), "/api/range").Code)
}

func TestReportOutsideSpanIsEmpty(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	rec := get(t, c.Handler(), "/api/report?start=2030-01-01&end=2030-02-01")
	require.Equal(t, http.StatusOK, rec.Code)

	var rep struct {
		Summary processor.Summary `json:"summary"`
		Views   []processor.View  `json:"views"`
	}
	decode(t, rec, &rep)
	assert.Equal(t, processor.Summary{}, rep.Summary)
	require.Len(t, rep.Views, 5)
	for _, v := range rep.Views {
		assert.Empty(t, v.Rows)
	}

	// start晚于end同样为空
	rec = get(t, c.Handler(), "/api/summary?start=2011-04-01&end=2011-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Summary processor.Summary `json:"summary"`
	}
	decode(t, rec, &sum)
	assert.Zero(t, sum.Summary.Total)
}

func TestMsgpackFormat(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	rec := get(t, c.Handler(), "/api/summary?format=msgpack")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-msgpack", rec.Header().Get("Content-Type"))

	var body struct {
		Summary struct {
			Total   int `msgpack:"total"`
			Records int `msgpack:"records"`
		} `msgpack:"summary"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 47, body.Summary.Total)
	assert.Equal(t, 3, body.Summary.Records)
}

func TestExport(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	rec := get(t, c.Handler(), "/api/export?start=2011-01-01&end=2011-01-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "bikeshare_20110101_20110102.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Season")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Winter", "8", "17", "25"}, rows[1])
}

func TestIndexAndStatic(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	h := c.Handler()

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Test Dashboard</title>")
	assert.Contains(t, body, `min="2011-01-01"`)
	assert.Contains(t, body, `max="2011-04-01"`)
	assert.Contains(t, body, `data-dimension="weather"`)
	assert.Contains(t, body, "Few clouds")

	js := get(t, h, "/static/dashboard.js")
	require.Equal(t, http.StatusOK, js.Code)
	assert.Contains(t, js.Body.String(), "/api/report")

	assert.Equal(t, http.StatusOK, get(t, h, "/static/dashboard.css").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	h := c.Handler()

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	decode(t, rec, &health)
	assert.Equal(t, true, health["dataset_loaded"])

	get(t, h, "/api/views/hour")
	m := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), `route="/api/views/{dimension}"`)
	assert.Contains(t, m.Body.String(), `bikeshare_aggregation_duration_seconds_count{dimension="hour"}`)
}

func TestStreamLogs(t *testing.T) {
	c, logger := newTestController(t, sampleDataset(t))
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// 订阅在响应头发出前完成
	logger.Info("hello from test")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if strings.Contains(line, "hello from test") {
				return
			}
		case <-deadline:
			t.Fatal("log line not streamed")
		}
	}
}

func TestStartAndShutdown(t *testing.T) {
	c, _ := newTestController(t, sampleDataset(t))
	c.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	c.Start(ctx, &wg)
	cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
