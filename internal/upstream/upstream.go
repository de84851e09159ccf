package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotFound 表示上游不存在该条目或应用。
var ErrNotFound = errors.New("upstream item not found")

// File 是上游负载中的单个文件。
type File struct {
	Name string
	Data []byte
}

// Payload 是一次抓取得到的原始文件集合。
type Payload struct {
	Files []File
}

// Size 返回全部文件字节数之和。
func (p Payload) Size() int64 {
	var total int64
	for _, f := range p.Files {
		total += int64(len(f.Data))
	}
	return total
}

// Metadata 描述上游条目的元信息。
type Metadata struct {
	ID               uint64
	GameID           uint64
	Name             string
	ShortDescription string
	Description      string
	Size             int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Tags             []string
	PreviewURL       string
	FileURL          string
	Filename         string
	Source           string
	Dependencies     []uint64
	Screenshots      []string
}

// Genre 是应用所属的类型。
type Genre struct {
	ID   uint64
	Name string
}

// App 描述条目所属的游戏/应用。
type App struct {
	ID               uint64
	Name             string
	Type             string
	HeaderImage      string
	ShortDescription string
	Description      string
	Genres           []Genre
}

// Fetcher 是 worker 池消费的上游客户端。
type Fetcher interface {
	// Details 只获取元信息，供失效检查比较更新时间。
	Details(ctx context.Context, id uint64) (Metadata, error)
	// Fetch 获取元信息与完整负载。
	Fetch(ctx context.Context, id uint64) (Payload, Metadata, error)
	// App 获取应用信息，用于首次登记游戏。
	App(ctx context.Context, appID uint64) (App, error)
}

// Options 传递给来源构造函数的公共参数。
type Options struct {
	Client         *http.Client
	APIBase        string
	StoreBase      string
	CommunityBase  string
	UserAgent      string
	MaxPayloadSize int64
}
