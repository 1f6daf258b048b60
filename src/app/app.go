package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/datapush"
	"BikeShareDashboard/src/dataset"
	"BikeShareDashboard/src/datasource/email"
	"BikeShareDashboard/src/datasource/file"
	"BikeShareDashboard/src/metrics"
	"BikeShareDashboard/src/server"
	"BikeShareDashboard/src/storage"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// 单次定时任务的超时时间
const jobTimeout = 3 * time.Minute

// App 串起数据加载、HTTP服务、定时任务与信号处理
type App struct {
	cfg     *config.Config
	dcfg    *config.DataConfig
	logger  *storage.Logger
	store   *dataset.Store
	metrics *metrics.Recorder
	server  *server.Controller

	mail        email.MailService
	attachments *email.AttachmentHandler
	pusher      *datapush.DingTalkPusher
	sendReport  func(cfg *config.Config, body, attachmentPath string) error

	reloadMu sync.Mutex
}

// New 加载数据集并构建各组件，数据集加载失败直接返回错误
func New(cfg *config.Config, dcfg *config.DataConfig, logger *storage.Logger) (*App, error) {
	start := time.Now()
	ds, err := file.LoadDataset(cfg.DataFile, cfg.SheetName, dcfg)
	if err != nil {
		return nil, fmt.Errorf("加载数据文件失败: %w", err)
	}
	logger.Infow("数据集已加载",
		zap.String("source", ds.Source()),
		zap.Int("records", ds.Len()),
		zap.Stringer("span", ds.Span()),
		zap.Duration("elapsed", time.Since(start)),
	)

	a := &App{
		cfg:        cfg,
		dcfg:       dcfg,
		logger:     logger,
		store:      dataset.NewStore(ds),
		metrics:    metrics.NewRecorder(),
		sendReport: email.SendReport,
	}
	a.metrics.SetDatasetRecords(ds.Len())

	a.server, err = server.NewController(server.Options{
		Config:     cfg,
		DataConfig: dcfg,
		Store:      a.store,
		Logger:     logger,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Email.Enabled {
		a.mail = email.NewEmailClient(cfg.Email.Server, cfg.Email.Username, cfg.Email.Password, logger)
		a.attachments = email.NewAttachmentHandler(cfg.Email.TargetSubject, cfg.DataDir, targetName(cfg), logger)
	}
	if cfg.DingTalk.Webhook != "" {
		a.pusher = datapush.NewDingTalkPusher(cfg.DingTalk.Webhook, cfg.DingTalk.Secret)
	}
	return a, nil
}

// targetName 数据文件位于附件目录时，附件直接覆盖数据文件以触发重新加载
func targetName(cfg *config.Config) string {
	if filepath.Clean(filepath.Dir(cfg.DataFile)) == filepath.Clean(cfg.DataDir) {
		return filepath.Base(cfg.DataFile)
	}
	return ""
}

func (a *App) Store() *dataset.Store      { return a.store }
func (a *App) Server() *server.Controller { return a.server }
func (a *App) Metrics() *metrics.Recorder { return a.metrics }

// Reload 重新读取数据文件，失败时保留原数据集
func (a *App) Reload() error {
	return a.replace(func() (*dataset.Dataset, error) {
		return file.LoadDataset(a.cfg.DataFile, a.cfg.SheetName, a.dcfg)
	})
}

// reloadFromMail 附件未覆盖数据文件时，直接用附件内容替换数据集
func (a *App) reloadFromMail(msg *email.Email) error {
	return a.replace(func() (*dataset.Dataset, error) {
		return email.LoadLatest(msg, a.cfg.SheetName, a.dcfg)
	})
}

func (a *App) replace(load func() (*dataset.Dataset, error)) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	ds, err := load()
	a.metrics.RecordReload(err)
	if err != nil {
		a.logger.Errorw("重新加载数据失败，继续使用原数据集", zap.Error(err))
		return err
	}

	old := a.store.Swap(ds)
	a.metrics.SetDatasetRecords(ds.Len())
	fields := []zap.Field{
		zap.String("source", ds.Source()),
		zap.Int("records", ds.Len()),
		zap.Stringer("span", ds.Span()),
	}
	if old != nil {
		fields = append(fields, zap.Int("previous_records", old.Len()))
	}
	a.logger.Infow("数据集已重新加载", fields...)
	return nil
}

// reportRange 最近LastDays天，以数据集最后一天为终点
func (a *App) reportRange(ds *dataset.Dataset) dataset.DateRange {
	span := ds.Span()
	if a.cfg.Report.LastDays <= 0 || span.Empty() {
		return span
	}
	r := dataset.LastDays(span.End, a.cfg.Report.LastDays)
	if r.Start.Before(span.Start) {
		r.Start = span.Start
	}
	return r
}

// RunReport 生成报表并写入OutputDir，随后按配置发送邮件和推送钉钉
func (a *App) RunReport(ctx context.Context) (string, error) {
	ds, err := a.store.Load()
	if err != nil {
		return "", err
	}

	r := a.reportRange(ds)
	rep := a.server.Aggregator().BuildReport(ds, r)

	if err := os.MkdirAll(a.cfg.Report.OutputDir, 0755); err != nil {
		a.metrics.RecordReport("file", err)
		return "", fmt.Errorf("创建报表目录失败: %w", err)
	}
	path := filepath.Join(a.cfg.Report.OutputDir, server.ExportFileName(r))
	err = rep.SaveExcel(path)
	a.metrics.RecordReport("file", err)
	if err != nil {
		return "", err
	}
	a.logger.Infow("报表已生成", zap.String("path", path), zap.Stringer("range", r), zap.Int("total", rep.Summary.Total))

	var errs []error
	if a.cfg.SendEmail.Enabled {
		err := a.sendReport(a.cfg, datapush.RenderMarkdown(rep), path)
		a.metrics.RecordReport("email", err)
		if err != nil {
			a.logger.Errorw("报表邮件发送失败", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.pusher != nil {
		err := a.pusher.Push(ctx, rep)
		a.metrics.RecordReport("dingtalk", err)
		if err != nil {
			a.logger.Errorw("钉钉推送失败", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return path, fmt.Errorf("报表已生成但分发失败: %w", errors.Join(errs...))
	}
	return path, nil
}

// PollMail 检查邮箱，保存新的数据附件
func (a *App) PollMail() error {
	if a.mail == nil {
		return nil
	}
	msg, err := email.CheckAndProcessEmails(a.mail, a.cfg.Email.TargetSubject, a.logger)
	if err != nil {
		a.logger.Error("检查处理邮件失败: " + err.Error())
		return err
	}
	if msg == nil {
		return nil
	}
	if err := a.attachments.Handle(msg); err != nil {
		a.logger.Error(fmt.Sprintf("处理邮件失败(UID:%d): %v", msg.UID, err))
		return err
	}
	if len(a.attachments.Saved()) == 0 {
		return nil
	}
	if targetName(a.cfg) == "" {
		return a.reloadFromMail(msg)
	}
	// 未开启文件监听时由这里触发重新加载
	if !a.cfg.Reload.Watch {
		return a.Reload()
	}
	return nil
}

// startCron 注册邮件轮询与定时报表
func (a *App) startCron() (*cron.Cron, error) {
	c := cron.New()

	if a.mail != nil {
		interval := time.Duration(a.cfg.Email.CheckInterval).String()
		spec := fmt.Sprintf("@every %s", interval)
		if err := c.AddFunc(spec, func() { _ = a.PollMail() }); err != nil {
			return nil, fmt.Errorf("创建邮件检查任务失败: %w", err)
		}
		a.logger.Info(fmt.Sprintf("邮件监控已启动(检查间隔: %v)", interval))
	}

	if a.cfg.Report.Schedule != "" {
		err := c.AddFunc(a.cfg.Report.Schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := a.RunReport(ctx); err != nil {
				a.logger.Error("定时报表失败: " + err.Error())
			}
		})
		if err != nil {
			return nil, fmt.Errorf("创建报表任务失败: %w", err)
		}
		a.logger.Info("定时报表已启动: " + a.cfg.Report.Schedule)
	}

	c.Start()
	return c, nil
}

// watchDataFile 数据文件变化时重新加载
func (a *App) watchDataFile(ctx context.Context, wg *sync.WaitGroup) error {
	monitor, err := file.NewFileMonitor(a.cfg.DataFile)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := monitor.Watch(ctx, func(name string) {
			a.logger.Info("数据文件已变化: " + name)
			_ = a.Reload()
		})
		if err != nil {
			a.logger.Error("文件监听异常: " + err.Error())
		}
	}()
	return nil
}

// Run 启动全部后台任务，阻塞到ctx取消或收到SIGINT/SIGTERM
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	a.server.Start(ctx, &wg)

	c, err := a.startCron()
	if err != nil {
		cancel()
		wg.Wait()
		return err
	}
	defer c.Stop()

	if a.cfg.Reload.Watch {
		if err := a.watchDataFile(ctx, &wg); err != nil {
			a.logger.Error("无法监听数据文件: " + err.Error())
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// pid文件在全部任务启动后写入，reload工具据此发送SIGHUP
	if a.cfg.PidFile != "" {
		if err := WritePidFile(a.cfg.PidFile); err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer os.Remove(a.cfg.PidFile)
	}

	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return nil
		case sig := <-sigChan:
			if !a.handleSignal(sig) {
				a.logger.Info("Received signal: " + sig.String() + ", shutting down...")
				cancel()
				wg.Wait()
				return nil
			}
		}
	}
}

// handleSignal SIGHUP轮转日志并重新加载，返回false表示应退出
func (a *App) handleSignal(sig os.Signal) bool {
	if sig != syscall.SIGHUP {
		return false
	}
	a.logger.Info("Received SIGHUP, rotating log and reloading data")
	if err := a.logger.Rotate(); err != nil {
		a.logger.Error("日志轮转失败: " + err.Error())
	}
	_ = a.Reload()
	return true
}
