package snapshot

import "github.com/Codeshare/codeshare/backend/internal/ot/delta"

// Buffer 抽象文档内容缓冲区：能应用增量、能导出全文。
type Buffer interface {
	Len() int
	Apply(d delta.Delta) error
	String() string
}
