package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/dataset"
	"BikeShareDashboard/src/metrics"
	"BikeShareDashboard/src/processor"
	"BikeShareDashboard/src/storage"

	"github.com/gorilla/mux"
)

//go:embed all:assets
var content embed.FS

// Options 控制器依赖
type Options struct {
	Config     *config.Config
	DataConfig *config.DataConfig
	Store      *dataset.Store
	Logger     *storage.Logger
	Metrics    *metrics.Recorder
}

// Controller 仪表盘HTTP服务
type Controller struct {
	Server     http.Server
	cfg        *config.Config
	dcfg       *config.DataConfig
	store      *dataset.Store
	aggregator *processor.Aggregator
	logger     *storage.Logger
	metrics    *metrics.Recorder
	formatter  *Formatter
	index      *template.Template
	static     fs.FS
}

func NewController(opts Options) (*Controller, error) {
	if opts.Config == nil || opts.Store == nil || opts.Logger == nil {
		return nil, fmt.Errorf("server: config, store和logger不能为空")
	}
	if opts.DataConfig == nil {
		opts.DataConfig = config.DefaultDataConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder()
	}

	index, err := template.ParseFS(content, "assets/index.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("解析页面模板失败: %w", err)
	}
	static, err := fs.Sub(content, "assets/static")
	if err != nil {
		return nil, fmt.Errorf("加载静态资源失败: %w", err)
	}

	c := &Controller{
		cfg:        opts.Config,
		dcfg:       opts.DataConfig,
		store:      opts.Store,
		aggregator: processor.NewAggregator(opts.DataConfig, opts.Metrics),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		formatter:  NewFormatter(),
		index:      index,
		static:     static,
	}

	c.Server.Addr = opts.Config.HTTP.ListenAddr
	c.Server.Handler = c.setupRouter()
	c.Server.ReadTimeout = time.Duration(opts.Config.HTTP.ReadTimeout)
	c.Server.WriteTimeout = time.Duration(opts.Config.HTTP.WriteTimeout)
	return c, nil
}

// Handler 路由后的http.Handler
func (c *Controller) Handler() http.Handler {
	return c.Server.Handler
}

// Aggregator 与HTTP共用的聚合器(定时报表使用)
func (c *Controller) Aggregator() *processor.Aggregator {
	return c.aggregator
}

// Start 后台启动服务，ctx取消时优雅关闭
func (c *Controller) Start(ctx context.Context, wg *sync.WaitGroup) {
	c.logger.Info("HTTP服务启动: " + c.Server.Addr)
	wg.Add(1)

	go func() {
		defer wg.Done()
		if err := c.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("HTTP服务异常: " + err.Error())
		}
	}()

	go func() {
		<-ctx.Done()
		c.logger.Info("HTTP服务关闭...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Server.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("HTTP服务关闭失败: " + err.Error())
		}
	}()
}

func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(c.requestMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/range", c.GetRange).Methods(http.MethodGet)
	api.HandleFunc("/summary", c.GetSummary).Methods(http.MethodGet)
	api.HandleFunc("/views/{dimension}", c.GetView).Methods(http.MethodGet)
	api.HandleFunc("/report", c.GetReport).Methods(http.MethodGet)
	api.HandleFunc("/export", c.ExportReport).Methods(http.MethodGet)

	router.HandleFunc("/healthz", c.Health).Methods(http.MethodGet)
	router.HandleFunc("/logs", c.StreamLogs).Methods(http.MethodGet)
	router.Handle("/metrics", c.metrics.Handler()).Methods(http.MethodGet)

	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(c.static))))
	router.HandleFunc("/", c.ServeIndex).Methods(http.MethodGet)

	return router
}
