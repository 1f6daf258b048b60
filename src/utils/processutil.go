package utils

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

var excelSerial = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// 辅助函数：判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// MissingColumns 返回DataFrame中缺少的列
func MissingColumns(df dataframe.DataFrame, names ...string) []string {
	var missing []string
	for _, n := range names {
		if !HasColumn(df, n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// ParseDate 依次尝试多种格式，也接受Excel序列号日期
func ParseDate(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if excelSerial.MatchString(s) {
		return ExcelSerialToTime(s)
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ExcelSerialToTime excel时间类型转time.Time类型
func ExcelSerialToTime(s string) (time.Time, error) {
	excelDays, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}

	// 处理Excel的1900年闰年错误（2月29日不存在）
	if excelDays < 60 {
		excelDays += 1
	}

	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	days := int(excelDays)
	fraction := excelDays - float64(days)

	return base.AddDate(0, 0, days).
		Add(time.Duration(math.Round(86400*fraction)) * time.Second), nil
}

// ParseCount 解析非负整数计数，兼容 "12.0" 这类浮点写法
func ParseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

// Sheet 一个工作表及其数据
type Sheet struct {
	Name string
	Data dataframe.DataFrame
}

// SaveToExcel 将多个DataFrame分别写入工作表并保存
func SaveToExcel(filePath string, sheets ...Sheet) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

// WriteExcel 将工作簿写入w(用于HTTP下载)
func WriteExcel(w io.Writer, sheets ...Sheet) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("写出Excel失败: %w", err)
	}
	return nil
}

func buildWorkbook(sheets []Sheet) (*excelize.File, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("没有可写入的工作表")
	}

	f := excelize.NewFile()
	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				f.Close()
				return nil, fmt.Errorf("重命名工作表失败: %w", err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			f.Close()
			return nil, fmt.Errorf("创建工作表%s失败: %w", sh.Name, err)
		}
		if err := writeSheet(f, sh); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeSheet(f *excelize.File, sh Sheet) error {
	df := sh.Data
	if df.Err != nil {
		return fmt.Errorf("工作表%s数据错误: %w", sh.Name, df.Err)
	}

	// 写入列名
	colNames := df.Names()
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sh.Name, cell, name); err != nil {
			return err
		}
	}

	// 写入数据
	for colIdx, colName := range colNames {
		col := df.Col(colName)
		for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sh.Name, cell, col.Val(rowIdx)); err != nil {
				return err
			}
		}
	}
	return nil
}
