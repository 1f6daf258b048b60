package main

import (
	"flag"
	"log"

	"BikeShareDashboard/src/app"
)

// 通知运行中的仪表盘轮转日志并重新加载数据
func main() {
	pidFile := flag.String("pid", "./bikeshare.pid", "仪表盘进程的pid文件")
	flag.Parse()

	pid, err := app.SignalReload(*pidFile)
	if err != nil {
		log.Fatal("Failed to send SIGHUP:", err)
	}
	log.Printf("已向进程 %d 发送SIGHUP", pid)
}
