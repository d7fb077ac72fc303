package sys

import (
	"os"
	"path/filepath"
)

// AppName is the directory name used under the platform cache directory.
const AppName = "memo"

// CacheFileName is the name of the default cache file.
const CacheFileName = "cache.db"

// DefaultCacheDir returns the platform cache directory for memo, for example
// ~/.cache/memo on Linux or ~/Library/Caches/memo on macOS. When the platform
// has none it falls back to .cache/memo relative to the working directory.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(".cache", AppName)
}

// DefaultCachePath returns the default cache file location.
func DefaultCachePath() string {
	return filepath.Join(DefaultCacheDir(), CacheFileName)
}
