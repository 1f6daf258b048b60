// reader.go
package file

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/dataset"
	"BikeShareDashboard/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
)

// 必需的逻辑列，weekday缺失时由日期推算
var requiredColumns = []string{
	config.ColDate,
	config.ColHour,
	config.ColSeason,
	config.ColWeather,
	config.ColCasual,
	config.ColRegistered,
	config.ColTotal,
}

// LoadDataset 按扩展名读取数据文件并校验为数据集
func LoadDataset(filePath, sheetName string, dcfg *config.DataConfig) (*dataset.Dataset, error) {
	var (
		df  dataframe.DataFrame
		err error
	)
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".csv":
		df, err = ReadCSV(filePath)
	case ".xlsx":
		df, err = ReadXLSX(filePath, sheetName)
	default:
		return nil, fmt.Errorf("不支持的数据文件类型: %s", filePath)
	}
	if err != nil {
		return nil, err
	}
	return buildDataset(df, filePath, dcfg)
}

// LoadDatasetBytes 从内存中的文件内容(如邮件附件)构建数据集
func LoadDatasetBytes(name string, content []byte, sheetName string, dcfg *config.DataConfig) (*dataset.Dataset, error) {
	var (
		df  dataframe.DataFrame
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		df, err = ReadCSVBytes(content)
	case ".xlsx":
		df, err = ReadXLSXBytes(content, sheetName)
	default:
		return nil, fmt.Errorf("不支持的数据文件类型: %s", name)
	}
	if err != nil {
		return nil, err
	}
	return buildDataset(df, name, dcfg)
}

func buildDataset(df dataframe.DataFrame, source string, dcfg *config.DataConfig) (*dataset.Dataset, error) {
	records, err := FrameToRecords(df, dcfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	ds, err := dataset.New(records, source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return ds, nil
}

// ReadCSV 读取CSV，所有列按字符串加载，类型由FrameToRecords校验
func ReadCSV(filePath string) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("打开CSV文件失败: %w", err)
	}
	defer f.Close()
	return readCSV(f)
}

func ReadCSVBytes(content []byte) (dataframe.DataFrame, error) {
	return readCSV(bytes.NewReader(content))
}

func readCSV(r io.Reader) (dataframe.DataFrame, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nil),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("解析CSV失败: %w", df.Err)
	}
	return df, nil
}

// ReadXLSX 读取工作表，第一行为标题行；sheetName为空时取第一个工作表
func ReadXLSX(filePath, sheetName string) (dataframe.DataFrame, error) {
	// 1. 使用tealeg/xlsx打开Excel文件
	xlFile, err := xlsx.OpenFile(filePath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open file false: %w", err)
	}
	return sheetFrame(xlFile, sheetName)
}

func ReadXLSXBytes(content []byte, sheetName string) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(content)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open binary false: %w", err)
	}
	return sheetFrame(xlFile, sheetName)
}

func sheetFrame(xlFile *xlsx.File, sheetName string) (dataframe.DataFrame, error) {
	// 2. 获取工作表
	if len(xlFile.Sheets) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("excel文件中没有工作表")
	}
	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		s, ok := xlFile.Sheet[sheetName]
		if !ok {
			return dataframe.DataFrame{}, fmt.Errorf("工作表 %s 不存在", sheetName)
		}
		sheet = s
	}

	// 3. 转换为Gota DataFrame
	return convertSheetToDataFrame(sheet)
}

// convertSheetToDataFrame 将xlsx.Sheet转换为dataframe.DataFrame
func convertSheetToDataFrame(sheet *xlsx.Sheet) (dataframe.DataFrame, error) {
	if len(sheet.Rows) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("工作表 %s 为空", sheet.Name)
	}

	// 获取列名(第一行是标题行)
	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(cell.Value))
	}

	// 准备数据列
	columns := make([][]string, len(headers))
	for i := range columns {
		columns[i] = make([]string, 0, len(sheet.Rows)-1)
	}

	// 填充数据(从第二行开始)，跳过整行为空的行
	for _, row := range sheet.Rows[1:] {
		if row == nil || emptyRow(row) {
			continue
		}
		for i := range headers {
			value := ""
			if i < len(row.Cells) && row.Cells[i] != nil {
				value = row.Cells[i].Value
			}
			columns[i] = append(columns[i], value)
		}
	}

	seriesList := make([]series.Series, len(headers))
	for i, colName := range headers {
		seriesList[i] = series.New(columns[i], series.String, colName)
	}

	df := dataframe.New(seriesList...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("构建DataFrame失败: %w", df.Err)
	}
	return df, nil
}

func emptyRow(row *xlsx.Row) bool {
	for _, cell := range row.Cells {
		if cell != nil && strings.TrimSpace(cell.Value) != "" {
			return false
		}
	}
	return true
}

// FrameToRecords 按数据配置映射列名，逐行解析并校验
// 任何一行不合法都会导致整体失败，错误为*dataset.RowError
func FrameToRecords(df dataframe.DataFrame, dcfg *config.DataConfig) ([]dataset.RideRecord, error) {
	if dcfg == nil {
		dcfg = config.DefaultDataConfig()
	}

	names := make([]string, 0, len(requiredColumns))
	for _, col := range requiredColumns {
		names = append(names, dcfg.GetColumn(col))
	}
	if missing := utils.MissingColumns(df, names...); len(missing) > 0 {
		return nil, fmt.Errorf("%w: 缺少列 %s", dataset.ErrMalformedRow, strings.Join(missing, ", "))
	}

	column := func(name string) []string {
		return df.Col(dcfg.GetColumn(name)).Records()
	}
	dates := column(config.ColDate)
	hours := column(config.ColHour)
	seasons := column(config.ColSeason)
	weathers := column(config.ColWeather)
	casuals := column(config.ColCasual)
	registereds := column(config.ColRegistered)
	totals := column(config.ColTotal)

	var weekdays []string
	if utils.HasColumn(df, dcfg.GetColumn(config.ColWeekday)) {
		weekdays = column(config.ColWeekday)
	}

	records := make([]dataset.RideRecord, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		row := i + 1
		rowErr := func(col, value string, err error) error {
			return &dataset.RowError{
				Row:    row,
				Column: dcfg.GetColumn(col),
				Value:  value,
				Err:    fmt.Errorf("%w: %v", dataset.ErrMalformedRow, err),
			}
		}

		date, err := utils.ParseDate(dates[i], dcfg.DateLayouts)
		if err != nil {
			return nil, rowErr(config.ColDate, dates[i], err)
		}

		counts := make(map[string]int, 4)
		for _, c := range []struct {
			name   string
			values []string
		}{
			{config.ColHour, hours},
			{config.ColCasual, casuals},
			{config.ColRegistered, registereds},
			{config.ColTotal, totals},
		} {
			n, err := utils.ParseCount(c.values[i])
			if err != nil {
				return nil, rowErr(c.name, c.values[i], err)
			}
			if n < 0 && c.name != config.ColHour {
				return nil, rowErr(c.name, c.values[i], fmt.Errorf("negative count"))
			}
			counts[c.name] = n
		}

		if counts[config.ColTotal] != counts[config.ColCasual]+counts[config.ColRegistered] {
			return nil, rowErr(config.ColTotal, totals[i],
				fmt.Errorf("total != casual(%d) + registered(%d)", counts[config.ColCasual], counts[config.ColRegistered]))
		}

		weekday := dataset.WeekdayOf(date)
		if weekdays != nil {
			weekday = dataset.ParseWeekday(dcfg.CanonicalWeekday(weekdays[i]))
		}

		records = append(records, dataset.RideRecord{
			Date:       dataset.Day(date),
			Hour:       counts[config.ColHour],
			Season:     dataset.ParseSeason(dcfg.CanonicalSeason(seasons[i])),
			Weekday:    weekday,
			Weather:    dataset.ParseWeather(weathers[i]),
			Casual:     counts[config.ColCasual],
			Registered: counts[config.ColRegistered],
			Total:      counts[config.ColTotal],
		})
	}
	return records, nil
}
