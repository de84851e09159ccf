package cache

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"
)

// Store 负责管理模组压缩包的磁盘读写。磁盘布局遵循：
//
//	<StoragePath>/mods/<GameID>/<ModID>.zip
//
// 文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Get 返回一个可流式读取的压缩包。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 写入新的压缩包。实现需通过临时文件 + rename 保证原子性，
	// 失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Exists 仅检查文件是否存在，不打开文件。
	Exists(ctx context.Context, locator Locator) (bool, error)

	// Remove 删除压缩包，文件不存在时不报错。
	Remove(ctx context.Context, locator Locator) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个压缩包（游戏 + 模组）。
type Locator struct {
	GameID uint64
	ModID  uint64
}

// String 返回 locator 的短格式，便于日志输出。
func (l Locator) String() string {
	return strconv.FormatUint(l.GameID, 10) + "/" + strconv.FormatUint(l.ModID, 10)
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于 HTTP 层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
