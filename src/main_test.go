package main

import (
	"os"
	"path/filepath"
	"testing"

	"BikeShareDashboard/src/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 仓库自带的配置文件必须能被加载
func TestShippedConfig(t *testing.T) {
	folder := filepath.Join("..", "config")
	for _, name := range []string{"config.json", "dataconfig.json"} {
		_, err := os.Stat(filepath.Join(folder, name))
		require.NoError(t, err, name)
	}

	cfg, dcfg, err := config.LoadConfig(folder, "config.json", "dataconfig.json")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DataFile)
	assert.NotEmpty(t, cfg.HTTP.ListenAddr)
	assert.Equal(t, "dteday", dcfg.GetColumn(config.ColDate))
	assert.Equal(t, "Spring", dcfg.CanonicalSeason("Springer"))
	assert.Equal(t, "Spring", config.DefaultDataConfig().CanonicalSeason("Springer"))
}
