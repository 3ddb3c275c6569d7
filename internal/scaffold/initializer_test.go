package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/chalk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		force       bool
		setupFunc   func(dir string)
		wantErr     bool
		wantBackend string
	}{
		{
			name:        "fresh sqlite project",
			opts:        Options{Instance: "my-project"},
			wantBackend: config.BackendSQLite,
		},
		{
			name:        "redis project",
			opts:        Options{Instance: "shared", Backend: config.BackendRedis, RedisURL: "redis://board:6379"},
			wantBackend: config.BackendRedis,
		},
		{
			name: "existing config without force",
			opts: Options{Instance: "my-project"},
			setupFunc: func(dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultPath), []byte("old"), 0644))
			},
			wantErr: true,
		},
		{
			name:  "force replaces existing config",
			opts:  Options{Instance: "my-project"},
			force: true,
			setupFunc: func(dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultPath), []byte("old"), 0644))
			},
			wantBackend: config.BackendSQLite,
		},
		{
			name:    "invalid instance name",
			opts:    Options{Instance: "Not Valid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.setupFunc != nil {
				tt.setupFunc(dir)
			}

			created, err := Initialize(dir, tt.opts, tt.force)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{".chalk/", config.DefaultPath}, created)

			info, err := os.Stat(filepath.Join(dir, StateDir))
			require.NoError(t, err)
			assert.True(t, info.IsDir())

			cfg, err := config.Load(filepath.Join(dir, config.DefaultPath))
			require.NoError(t, err)
			assert.Equal(t, tt.opts.Instance, cfg.Instance)
			assert.Equal(t, tt.wantBackend, cfg.Store.Backend)
			if tt.wantBackend == config.BackendRedis {
				assert.Equal(t, tt.opts.RedisURL, cfg.Store.RedisURL)
			} else {
				assert.Equal(t, ".chalk/board.sqlite", cfg.Store.SQLitePath)
			}
		})
	}
}
