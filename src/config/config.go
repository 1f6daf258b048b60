package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// 环境变量前缀，覆盖config.json中的同名配置
const EnvPrefix = "BIKESHARE_"

// Config 结构体定义了应用程序的配置结构
type Config struct {
	DataFile   string `json:"data_file"`    // 骑行数据文件(.csv/.xlsx)
	DataDir    string `json:"data_dir"`     // 邮件附件等数据存放目录
	SheetName  string `json:"sheet_name"`   // xlsx数据所在工作表
	LogName    string `json:"log_name"`     // 日志文件
	LogMaxSize string `json:"log_max_size"` // 例如 "10 * 1024 * 1024"
	LogDebug   bool   `json:"log_debug"`
	PidFile    string `json:"pid_file"`

	HTTP struct {
		ListenAddr   string   `json:"listen_addr"`
		ReadTimeout  Duration `json:"read_timeout"`
		WriteTimeout Duration `json:"write_timeout"`
		Title        string   `json:"title"`
	} `json:"http"`

	Reload struct {
		Watch bool `json:"watch"` // 监听数据文件变化
	} `json:"reload"`

	Report struct {
		Schedule  string `json:"schedule"`   // cron表达式，空则不生成定时报表
		OutputDir string `json:"output_dir"` // 报表输出目录
		LastDays  int    `json:"last_days"`  // 报表统计最近N天，0表示全部
	} `json:"report"`

	Email struct {
		Enabled       bool     `json:"enabled"`
		Server        string   `json:"server"`         // 邮件服务器地址
		Username      string   `json:"username"`       // 邮箱用户名
		Password      string   `json:"password"`       // 邮箱密码
		TargetSubject string   `json:"target_subject"` // 需要匹配的邮件主题
		CheckInterval Duration `json:"check_interval"` // 检查新邮件的间隔时间
	} `json:"email"`

	SendEmail struct {
		Enabled  bool     `json:"enabled"`
		Server   string   `json:"server"`   // SMTP服务器地址
		Username string   `json:"username"` // 发件邮箱
		Password string   `json:"password"` // 密码/授权码
		To       []string `json:"to"`       // 收件人
		Subject  string   `json:"subject"`  // 报表邮件主题
	} `json:"send_email"`

	DingTalk struct {
		Webhook string `json:"webhook"` // 机器人webhook地址，空则不推送
		Secret  string `json:"secret"`  // 加签密钥
	} `json:"dingtalk"`
}

// DataConfig 描述输入数据的列名与取值映射
type DataConfig struct {
	Columns      map[string]string `json:"columns"`       // 逻辑列 -> 文件列名
	DateLayouts  []string          `json:"date_layouts"`  // 日期解析格式
	SeasonAlias  map[string]string `json:"season_alias"`  // 原始值 -> 标准季节名
	WeekdayAlias map[string]string `json:"weekday_alias"` // 原始值 -> 标准星期名
	WeatherDesc  map[string]string `json:"weather_desc"`  // 天气代码 -> 描述
}

// 逻辑列名
const (
	ColDate       = "date"
	ColHour       = "hour"
	ColSeason     = "season"
	ColWeekday    = "weekday"
	ColWeather    = "weather"
	ColCasual     = "casual"
	ColRegistered = "registered"
	ColTotal      = "total"
)

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	loadErr            error
	mu                 sync.RWMutex
)

// LoadConfig 只加载一次配置，之后返回同一实例
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	once.Do(func() {
		instance, dataConfigInstance, loadErr = loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, loadErr
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	// .env不存在不算错误
	_ = godotenv.Load(filepath.Join(jsonFolder, ".env"))
	cfg.applyEnv()
	cfg.applyDefaults()
	dcfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, dcfg, nil
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- &cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if err := json.Unmarshal(data, &dcfg); err != nil {
		errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
		return
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg  *Config
		dcfg *DataConfig
		errs []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("配置加载遇到错误: %w", errors.Join(errs...))
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

// applyEnv 使用环境变量覆盖配置(密码类配置不建议写进json)
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"DATA_FILE":       &c.DataFile,
		"DATA_DIR":        &c.DataDir,
		"LISTEN_ADDR":     &c.HTTP.ListenAddr,
		"EMAIL_PASSWORD":  &c.Email.Password,
		"SMTP_PASSWORD":   &c.SendEmail.Password,
		"DINGTALK_SECRET": &c.DingTalk.Secret,
		"DINGTALK_URL":    &c.DingTalk.Webhook,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*field = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.DataFile == "" {
		c.DataFile = "cleaned_hour.csv"
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Dir(c.DataFile)
	}
	if c.LogName == "" {
		c.LogName = "app.log"
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = Duration(10 * time.Second)
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = Duration(30 * time.Second)
	}
	if c.HTTP.Title == "" {
		c.HTTP.Title = "Bike-sharing Dashboard"
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "reports"
	}
	if c.Email.CheckInterval == 0 {
		c.Email.CheckInterval = Duration(5 * time.Minute)
	}
	if c.SendEmail.Subject == "" {
		c.SendEmail.Subject = "共享单车使用报表"
	}
}

// Validate 检查互相依赖的配置项
func (c *Config) Validate() error {
	if c.Email.Enabled && (c.Email.Server == "" || c.Email.Username == "") {
		return fmt.Errorf("email已启用但缺少server或username")
	}
	if c.SendEmail.Enabled && (c.SendEmail.Server == "" || len(c.SendEmail.To) == 0) {
		return fmt.Errorf("send_email已启用但缺少server或收件人")
	}
	if c.Report.LastDays < 0 {
		return fmt.Errorf("report.last_days不能为负数: %d", c.Report.LastDays)
	}
	return nil
}

// DefaultDataConfig 返回清洗后hour.csv对应的默认映射
func DefaultDataConfig() *DataConfig {
	dc := &DataConfig{}
	dc.applyDefaults()
	return dc
}

func (dc *DataConfig) applyDefaults() {
	if dc.Columns == nil {
		dc.Columns = map[string]string{}
	}
	defaults := map[string]string{
		ColDate:       "dteday",
		ColHour:       "hr",
		ColSeason:     "season",
		ColWeekday:    "weekday",
		ColWeather:    "weathersit",
		ColCasual:     "casual",
		ColRegistered: "registered",
		ColTotal:      "cnt",
	}
	for k, v := range defaults {
		if _, ok := dc.Columns[k]; !ok {
			dc.Columns[k] = v
		}
	}
	if len(dc.DateLayouts) == 0 {
		dc.DateLayouts = []string{"2006-01-02", "2006/01/02", "2006-01-02 15:04:05", "01/02/2006"}
	}
	if dc.SeasonAlias == nil {
		dc.SeasonAlias = map[string]string{
			"1": "Spring", "2": "Summer", "3": "Fall", "4": "Winter", "Springer": "Spring",
		}
	}
	if dc.WeekdayAlias == nil {
		dc.WeekdayAlias = map[string]string{
			"0": "Sunday", "1": "Monday", "2": "Tuesday", "3": "Wednesday",
			"4": "Thursday", "5": "Friday", "6": "Saturday",
		}
	}
	if dc.WeatherDesc == nil {
		dc.WeatherDesc = map[string]string{
			"1": "Clear, Few clouds, Partly cloudy",
			"2": "Mist + Cloudy, Mist + Broken clouds, Mist + Few clouds, Mist",
			"3": "Light Snow, Light Rain + Thunderstorm + Scattered clouds, Light Rain + Scattered clouds",
			"4": "Heavy Rain + Ice Pallets + Thunderstorm + Mist, Snow + Fog",
		}
	}
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
// 用于从JSON字符串解析Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
// 用于将Duration序列化为JSON字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// GetColumn 返回逻辑列在文件中的列名
func (dc *DataConfig) GetColumn(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	return dc.Columns[name]
}

func (dc *DataConfig) SetColumn(name, value string) {
	mu.Lock()
	defer mu.Unlock()
	dc.Columns[name] = value
}

// CanonicalSeason 将原始季节值映射为标准名，未配置别名时原样返回
func (dc *DataConfig) CanonicalSeason(raw string) string {
	return dc.lookup(dc.SeasonAlias, raw)
}

// CanonicalWeekday 将原始星期值映射为标准名
func (dc *DataConfig) CanonicalWeekday(raw string) string {
	return dc.lookup(dc.WeekdayAlias, raw)
}

func (dc *DataConfig) GetWeatherDesc(code string) string {
	mu.RLock()
	defer mu.RUnlock()
	return dc.WeatherDesc[code]
}

func (dc *DataConfig) lookup(m map[string]string, raw string) string {
	mu.RLock()
	defer mu.RUnlock()
	raw = strings.TrimSpace(raw)
	if v, ok := m[raw]; ok {
		return v
	}
	return raw
}
