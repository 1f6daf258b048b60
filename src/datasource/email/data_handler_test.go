package email

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"BikeShareDashboard/src/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourCSV(t *testing.T) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(hourCSVBase64)
	require.NoError(t, err)
	return b
}

func TestLoadAttachment(t *testing.T) {
	ds, err := LoadAttachment(&Attachment{Filename: "hour.csv", Content: hourCSV(t)}, "", config.DefaultDataConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, "hour.csv", ds.Source())
	assert.Equal(t, time.Date(2011, 1, 2, 0, 0, 0, 0, time.UTC), ds.Span().End)

	_, err = LoadAttachment(&Attachment{Filename: "logo.png"}, "", nil)
	assert.Error(t, err)

	_, err = LoadAttachment(&Attachment{Filename: "bad.csv", Content: []byte("dteday,hr\n2011-01-01,x\n")}, "", config.DefaultDataConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.csv")
}

func TestLoadLatest(t *testing.T) {
	email := &Email{Subject: "单车数据", Attachments: []*Attachment{
		{Filename: "readme.txt", Content: []byte("hi")},
		{Filename: "hour.csv", Content: hourCSV(t)},
	}}
	ds, err := LoadLatest(email, "", config.DefaultDataConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())

	_, err = LoadLatest(&Email{Subject: "空"}, "", nil)
	assert.Error(t, err)
}

func TestAttachmentHandler(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	h := NewAttachmentHandler("单车数据", dir, "", newTestLogger(t))

	email := &Email{UID: 9, Subject: "单车数据 周报", Date: time.Now(), Attachments: []*Attachment{
		{Filename: "../escape.csv", Content: hourCSV(t)},
		{Filename: "logo.png", Content: []byte("png")},
	}}
	require.NoError(t, h.Handle(email))
	require.Equal(t, []string{filepath.Join(dir, "escape.csv")}, h.Saved())
	got, err := os.ReadFile(filepath.Join(dir, "escape.csv"))
	require.NoError(t, err)
	assert.Equal(t, hourCSV(t), got)
	assert.NoFileExists(t, filepath.Join(dir, "logo.png"))

	// 同一UID不再处理
	require.NoError(t, os.Remove(filepath.Join(dir, "escape.csv")))
	require.NoError(t, h.Handle(email))
	assert.Empty(t, h.Saved())
	assert.NoFileExists(t, filepath.Join(dir, "escape.csv"))

	// 主题不匹配
	require.NoError(t, h.Handle(&Email{UID: 10, Subject: "other", Attachments: email.Attachments}))
	assert.Empty(t, h.Saved())
}

func TestAttachmentHandlerTargetName(t *testing.T) {
	dir := t.TempDir()
	h := NewAttachmentHandler("单车数据", dir, "hour.csv", nil)

	email := &Email{UID: 1, Subject: "单车数据", Attachments: []*Attachment{
		{Filename: "data.xlsx", Content: []byte("not used")},
		{Filename: "2011-01.CSV", Content: hourCSV(t)},
	}}
	require.NoError(t, h.Handle(email))
	assert.Equal(t, []string{filepath.Join(dir, "hour.csv")}, h.Saved())
	assert.FileExists(t, filepath.Join(dir, "hour.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "data.xlsx"))

	// 没有数据附件时不标记，之后补发仍可处理
	h2 := NewAttachmentHandler("单车数据", dir, "hour.csv", nil)
	require.NoError(t, h2.Handle(&Email{UID: 2, Subject: "单车数据"}))
	assert.False(t, h2.isProcessed(2))
}
