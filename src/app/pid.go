package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WritePidFile 写入当前进程号
func WritePidFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建pid目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("写入pid文件失败: %w", err)
	}
	return nil
}

func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("读取pid文件失败: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid文件内容无效: %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// SignalReload 向pid文件记录的进程发送SIGHUP
func SignalReload(pidFile string) (int, error) {
	pid, err := ReadPidFile(pidFile)
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return pid, fmt.Errorf("发送SIGHUP到进程 %d 失败: %w", pid, err)
	}
	return pid, nil
}
