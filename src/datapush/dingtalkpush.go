package datapush

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"BikeShareDashboard/src/processor"
)

// 常量定义
const (
	RETRY_TIMES    = 5
	RETRY_INTERVAL = 2 * time.Second
)

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type markdownMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"markdown"`
}

// DingTalkPusher 通过群机器人webhook推送报表摘要
type DingTalkPusher struct {
	Webhook       string
	Secret        string
	Client        *http.Client
	RetryTimes    int
	RetryInterval time.Duration

	now func() time.Time
}

func NewDingTalkPusher(webhook, secret string) *DingTalkPusher {
	return &DingTalkPusher{
		Webhook:       webhook,
		Secret:        secret,
		Client:        &http.Client{Timeout: 10 * time.Second},
		RetryTimes:    RETRY_TIMES,
		RetryInterval: RETRY_INTERVAL,
		now:           time.Now,
	}
}

// Push 推送报表摘要，失败按RetryTimes重试
func (p *DingTalkPusher) Push(ctx context.Context, rep processor.Report) error {
	msg := markdownMessage{MsgType: "markdown"}
	msg.Markdown.Title = "共享单车使用报表"
	msg.Markdown.Text = RenderMarkdown(rep)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	return retry(ctx, func() error {
		return p.send(ctx, payload)
	}, p.RetryTimes, p.RetryInterval)
}

func (p *DingTalkPusher) send(ctx context.Context, payload []byte) error {
	target, err := p.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook返回状态码 %d", resp.StatusCode)
	}

	var result DingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("发送消息失败: %d %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedURL 配置了Secret时附加timestamp与sign参数
func (p *DingTalkPusher) signedURL() (string, error) {
	if p.Secret == "" {
		return p.Webhook, nil
	}
	u, err := url.Parse(p.Webhook)
	if err != nil {
		return "", fmt.Errorf("webhook地址无效: %w", err)
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	ts := now().UnixMilli()
	q := u.Query()
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", Sign(ts, p.Secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Sign 钉钉加签: base64(hmac_sha256(timestamp+"\n"+secret))
func Sign(timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RenderMarkdown 报表摘要转为markdown
func RenderMarkdown(rep processor.Report) string {
	var b strings.Builder
	s := rep.Summary

	fmt.Fprintf(&b, "### 共享单车使用报表\n\n")
	if rep.Range.Empty() {
		b.WriteString("统计区间内没有数据\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- 区间: %s ~ %s\n", rep.Range.Start.Format("2006-01-02"), rep.Range.End.Format("2006-01-02"))
	fmt.Fprintf(&b, "- 总骑行: %d (注册 %d / 临时 %d)\n", s.Total, s.Registered, s.Casual)
	fmt.Fprintf(&b, "- 日均: %.1f\n", s.DailyMean)
	fmt.Fprintf(&b, "- 注册用户占比: %.1f%%\n", s.RegisteredShare*100)
	if s.Records > 0 {
		fmt.Fprintf(&b, "- 高峰时段: %02d:00 (%d)\n", s.PeakHour, s.PeakHourTotal)
	}

	if v, ok := rep.View(processor.DimSeason); ok && len(v.Rows) > 0 {
		b.WriteString("\n| 季节 | 总计 |\n| --- | --- |\n")
		for _, row := range v.Rows {
			fmt.Fprintf(&b, "| %s | %d |\n", row.Label, row.Total)
		}
	}
	return b.String()
}

// 重试函数
func retry(ctx context.Context, fn func() error, times int, interval time.Duration) error {
	if times < 1 {
		times = 1
	}
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("重试中断: %w", ctx.Err())
			case <-time.After(interval):
			}
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %w", times, err)
}
