package main

import (
	"context"
	"flag"
	"log"

	"BikeShareDashboard/src/app"
	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/storage"
)

func main() {
	jsonFolder := flag.String("config", "./config", "配置目录")
	reportOnce := flag.Bool("report", false, "生成一次报表后退出")
	flag.Parse()

	cfg, dcfg, err := config.LoadConfig(*jsonFolder, "config.json", "dataconfig.json")
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// 初始化日志系统
	logger, err := storage.NewLoggerWithOptions(storage.Options{
		Filename: cfg.LogName,
		MaxSize:  cfg.LogMaxSize,
		Debug:    cfg.LogDebug,
	})
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Close()

	a, err := app.New(cfg, dcfg, logger)
	if err != nil {
		logger.Error(err.Error())
		log.Fatal(err)
	}

	if *reportOnce {
		path, err := a.RunReport(context.Background())
		if err != nil {
			logger.Error(err.Error())
			log.Fatal(err)
		}
		log.Println("报表已生成:", path)
		return
	}

	if err := a.Run(context.Background()); err != nil {
		logger.Error(err.Error())
		log.Fatal(err)
	}
	logger.Info("服务已退出")
}
