package email

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"BikeShareDashboard/src/config"
	"BikeShareDashboard/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourCSVBase64 = "ZHRlZGF5LGhyLHNlYXNvbix3ZWVrZGF5LHdlYXRoZXJzaXQsY2FzdWFsLHJlZ2lzdGVyZWQsY250CjIwMTEtMDEtMDEsMCw0LDYsMSwzLDEzLDE2CjIwMTEtMDEtMDIsOCw0LDAsMiw1LDI3LDMyCg=="

// 主题为GBK编码的"单车数据"
var rawMessage = strings.Join([]string{
	"From: Data Team <data@example.com>",
	"To: ops@example.com",
	"Subject: =?GBK?B?taWztcr9vt0=?=",
	"Date: Mon, 03 Jan 2011 09:00:00 +0800",
	"MIME-Version: 1.0",
	`Content-Type: multipart/mixed; boundary="XYZ"`,
	"",
	"--XYZ",
	"Content-Type: text/plain; charset=utf-8",
	"",
	"see attachment",
	"--XYZ",
	`Content-Type: text/csv; name="hour.csv"`,
	`Content-Disposition: attachment; filename="hour.csv"`,
	"Content-Transfer-Encoding: base64",
	"",
	hourCSVBase64,
	"--XYZ",
	`Content-Type: image/png; name="logo.png"`,
	`Content-Disposition: attachment; filename="logo.png"`,
	"",
	"PNG",
	"--XYZ--",
	"",
}, "\r\n")

func newTestLogger(t *testing.T) *storage.Logger {
	t.Helper()
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "test.log"))
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestParseMessage(t *testing.T) {
	email, err := ParseMessage(42, strings.NewReader(rawMessage))
	require.NoError(t, err)

	assert.Equal(t, uint32(42), email.UID)
	assert.Equal(t, "单车数据", email.Subject)
	assert.Contains(t, email.From, "data@example.com")
	assert.Equal(t, 2011, email.Date.Year())

	require.Len(t, email.Attachments, 2)
	assert.Equal(t, "hour.csv", email.Attachments[0].Filename)
	assert.True(t, strings.HasPrefix(string(email.Attachments[0].Content), "dteday,hr"))
	assert.True(t, email.Attachments[0].IsDataFile())
	assert.False(t, email.Attachments[1].IsDataFile())
}

func TestDecodeHeader(t *testing.T) {
	assert.Equal(t, "单车数据", decodeHeader("=?gb2312?B?taWztcr9vt0=?="))
	assert.Equal(t, "日报.csv", decodeHeader("=?UTF-8?B?5pel5oqlLmNzdg==?="))
	assert.Equal(t, "plain subject", decodeHeader("plain subject"))
}

func TestFilterLatestTargetEmail(t *testing.T) {
	base := time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)
	emails := []*Email{
		{UID: 1, Subject: "单车数据 1月", Date: base},
		{UID: 2, Subject: "其他", Date: base.Add(48 * time.Hour)},
		{UID: 3, Subject: "单车数据 2月", Date: base.Add(24 * time.Hour)},
	}
	got := filterLatestTargetEmail(emails, "单车数据")
	require.NotNil(t, got)
	assert.Equal(t, uint32(3), got.UID)

	assert.Nil(t, filterLatestTargetEmail(emails, "航班"))
}

type fakeMailService struct {
	emails       []*Email
	connectErr   error
	fetchErr     error
	disconnected bool
}

func (f *fakeMailService) Connect() error { return f.connectErr }
func (f *fakeMailService) Disconnect()    { f.disconnected = true }
func (f *fakeMailService) FetchUnreadEmails() ([]*Email, error) {
	return f.emails, f.fetchErr
}

func TestCheckAndProcessEmails(t *testing.T) {
	logger := newTestLogger(t)

	svc := &fakeMailService{emails: []*Email{
		{UID: 7, Subject: "单车数据", Date: time.Now()},
	}}
	got, err := CheckAndProcessEmails(svc, "单车数据", logger)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint32(7), got.UID)
	assert.True(t, svc.disconnected)

	got, err = CheckAndProcessEmails(&fakeMailService{}, "单车数据", logger)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = CheckAndProcessEmails(&fakeMailService{connectErr: errors.New("refused")}, "x", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "连接失败")

	failing := &fakeMailService{fetchErr: errors.New("timeout")}
	_, err = CheckAndProcessEmails(failing, "x", logger)
	require.Error(t, err)
	assert.True(t, failing.disconnected)
}

func TestNewReportEmail(t *testing.T) {
	report := filepath.Join(t.TempDir(), "bikeshare_20110101_20110131.xlsx")
	require.NoError(t, os.WriteFile(report, []byte("xlsx"), 0644))

	cfg := &config.Config{}
	cfg.SendEmail.Username = "bot@example.com"
	cfg.SendEmail.To = []string{"ops@example.com"}
	cfg.SendEmail.Subject = "共享单车使用报表"

	e, err := NewReportEmail(cfg, "summary", report)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, e.To)
	assert.Contains(t, e.From, "bot@example.com")
	require.Len(t, e.Attachments, 1)
	assert.Equal(t, "bikeshare_20110101_20110131.xlsx", e.Attachments[0].Filename)

	raw, err := e.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "bikeshare_20110101_20110131.xlsx")

	_, err = NewReportEmail(cfg, "summary", filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}

func TestSMTPAddress(t *testing.T) {
	addr, host := smtpAddress("smtp.example.com")
	assert.Equal(t, "smtp.example.com:465", addr)
	assert.Equal(t, "smtp.example.com", host)

	addr, host = smtpAddress("smtp.example.com:587")
	assert.Equal(t, "smtp.example.com:587", addr)
	assert.Equal(t, "smtp.example.com", host)
}
