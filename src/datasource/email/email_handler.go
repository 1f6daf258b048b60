// email_handler.go
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"BikeShareDashboard/src/storage"
)

// ====================== 邮件处理器实现 ======================

// AttachmentHandler 将目标邮件中的csv/xlsx附件保存到数据目录
type AttachmentHandler struct {
	TargetSubject string          // 目标邮件主题关键词
	DataDir       string          // 附件保存目录
	TargetName    string          // 非空时附件统一保存为该文件名(即被监听的数据文件)
	logger        *storage.Logger
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	saved         []string        // 最近一次Handle保存的文件
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewAttachmentHandler(subject, dataDir, targetName string, logger *storage.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		TargetName:    targetName,
		logger:        logger,
		processedUIDs: make(map[uint32]bool),
	}
}

// isProcessed 检查邮件是否已处理过（线程安全）
func (h *AttachmentHandler) isProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

// markAsProcessed 标记邮件为已处理（线程安全）
func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Saved 最近一次保存的文件路径
func (h *AttachmentHandler) Saved() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.saved...)
}

// Handle 处理单个邮件，同一UID只处理一次
func (h *AttachmentHandler) Handle(email *Email) error {
	h.mu.Lock()
	h.saved = nil
	h.mu.Unlock()

	if h.isProcessed(email.UID) {
		return nil
	}

	if !strings.Contains(email.Subject, h.TargetSubject) {
		h.info(fmt.Sprintf("跳过主题不匹配的邮件: %s", email.Subject))
		return nil
	}

	h.info(fmt.Sprintf("处理邮件: %s 发件人: %s 日期: %s",
		email.Subject, email.From, email.Date.Format("2006-01-02 15:04:05")))

	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	var saved []string
	for _, attachment := range email.Attachments {
		if !attachment.IsDataFile() {
			continue
		}
		// 固定文件名时扩展名必须一致
		if h.TargetName != "" && !strings.EqualFold(filepath.Ext(h.TargetName), filepath.Ext(attachment.Filename)) {
			continue
		}

		filePath := filepath.Join(h.DataDir, h.fileName(attachment))
		// 先写临时文件再改名，监听方不会读到半个文件
		tmp := filePath + ".part"
		if err := os.WriteFile(tmp, attachment.Content, 0644); err != nil {
			return fmt.Errorf("保存附件失败: %w", err)
		}
		if err := os.Rename(tmp, filePath); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("保存附件失败: %w", err)
		}

		h.info("附件已保存到: " + filePath)
		saved = append(saved, filePath)
		if h.TargetName != "" {
			break // 只取第一个数据附件
		}
	}

	h.mu.Lock()
	h.saved = saved
	h.mu.Unlock()

	// 有数据附件才标记为已处理
	if len(saved) > 0 {
		h.markAsProcessed(email.UID)
	}
	return nil
}

// fileName 附件名去掉路径部分，防止写出数据目录
func (h *AttachmentHandler) fileName(a *Attachment) string {
	if h.TargetName != "" {
		return filepath.Base(h.TargetName)
	}
	return filepath.Base(filepath.Clean("/" + a.Filename))
}

func (h *AttachmentHandler) info(msg string) {
	if h.logger != nil {
		h.logger.Info(msg)
	}
}
