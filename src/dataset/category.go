package dataset

import (
	"strconv"
	"strings"
	"time"

	"BikeShareDashboard/src/utils"
)

// Season 季节，序号即展示顺序
type Season int

const (
	SeasonUnknown Season = iota
	Spring
	Summer
	Fall
	Winter
)

var seasonNames = [...]string{"Unknown", "Spring", "Summer", "Fall", "Winter"}

// Seasons 按固定顺序返回全部季节
func Seasons() []Season {
	return []Season{Spring, Summer, Fall, Winter}
}

func (s Season) Valid() bool {
	return s >= Spring && s <= Winter
}

func (s Season) String() string {
	if !s.Valid() {
		return seasonNames[SeasonUnknown]
	}
	return seasonNames[s]
}

// ParseSeason 解析标准英文季节名(不区分大小写)，否则返回SeasonUnknown
func ParseSeason(v string) Season {
	v = strings.TrimSpace(v)
	for _, s := range Seasons() {
		if strings.EqualFold(v, s.String()) {
			return s
		}
	}
	return SeasonUnknown
}

// Weekday 星期，周一为1，周日为7
type Weekday int

const (
	WeekdayUnknown Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"Unknown", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func Weekdays() []Weekday {
	return []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return weekdayNames[WeekdayUnknown]
	}
	return weekdayNames[d]
}

// ParseWeekday 解析英文星期名，支持全称和三字母缩写
func ParseWeekday(v string) Weekday {
	v = strings.TrimSpace(v)
	for _, d := range Weekdays() {
		name := d.String()
		if strings.EqualFold(v, name) || strings.EqualFold(v, name[:3]) {
			return d
		}
	}
	return WeekdayUnknown
}

// WeekdayOf 由日期推算星期
func WeekdayOf(t time.Time) Weekday {
	if t.Weekday() == time.Sunday {
		return Sunday
	}
	return Weekday(t.Weekday())
}

// Weather 天气代码 1(晴) 到 4(恶劣)
type Weather int

const (
	WeatherClear Weather = iota + 1
	WeatherMist
	WeatherLightPrecipitation
	WeatherHeavyPrecipitation
)

var weatherLabels = map[Weather]string{
	WeatherClear:              "Clear",
	WeatherMist:               "Mist",
	WeatherLightPrecipitation: "Light Snow/Rain",
	WeatherHeavyPrecipitation: "Heavy Rain/Snow",
}

func WeatherConditions() []Weather {
	return []Weather{WeatherClear, WeatherMist, WeatherLightPrecipitation, WeatherHeavyPrecipitation}
}

func (w Weather) Valid() bool {
	return w >= WeatherClear && w <= WeatherHeavyPrecipitation
}

// Code 原始数据中的数字代码
func (w Weather) Code() string {
	return strconv.Itoa(int(w))
}

func (w Weather) String() string {
	if label, ok := weatherLabels[w]; ok {
		return label
	}
	return "Unknown"
}

// ParseWeather 解析数字代码，兼容 "1.0"，非数字返回0(无效)
func ParseWeather(v string) Weather {
	n, err := utils.ParseCount(v)
	if err != nil {
		return 0
	}
	return Weather(n)
}

// ValidHour 小时取值 0-23
func ValidHour(h int) bool {
	return h >= 0 && h <= 23
}
