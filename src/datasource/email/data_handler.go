// data_handler.go
package email

import (
	"fmt"

	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/dataset"
	"BikeShareDashboard/src/datasource/file"
)

// LoadAttachment 直接把附件解析为数据集，不落盘
func LoadAttachment(att *Attachment, sheetName string, dcfg *config.DataConfig) (*dataset.Dataset, error) {
	if att == nil {
		return nil, fmt.Errorf("附件为空")
	}
	if !att.IsDataFile() {
		return nil, fmt.Errorf("不支持的附件类型: %s", att.Filename)
	}
	ds, err := file.LoadDatasetBytes(att.Filename, att.Content, sheetName, dcfg)
	if err != nil {
		return nil, fmt.Errorf("解析附件 %s 失败: %w", att.Filename, err)
	}
	return ds, nil
}

// LoadLatest 取邮件中第一个可解析的数据附件
func LoadLatest(email *Email, sheetName string, dcfg *config.DataConfig) (*dataset.Dataset, error) {
	var lastErr error
	for _, att := range email.Attachments {
		if !att.IsDataFile() {
			continue
		}
		ds, err := LoadAttachment(att, sheetName, dcfg)
		if err == nil {
			return ds, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("邮件 %q 中没有数据附件", email.Subject)
}
