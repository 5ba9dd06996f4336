package mail

import "io"

// BoundedReader 在读取 limit 字节后返回 io.EOF
//
// 与 io.LimitReader 不同，它会记录实际消耗的字节数，
// 并能区分源数据是自然结束还是被截断。
type BoundedReader struct {
	src       io.Reader
	remaining int64
	consumed  int64
	srcEOF    bool
}

// NewBoundedReader 包装 src，最多读取 limit 字节
func NewBoundedReader(src io.Reader, limit int64) *BoundedReader {
	if limit < 0 {
		limit = 0
	}
	return &BoundedReader{src: src, remaining: limit}
}

func (b *BoundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.src.Read(p)
	b.remaining -= int64(n)
	b.consumed += int64(n)
	if err == io.EOF {
		b.srcEOF = true
	}
	return n, err
}

// Consumed 返回已经从源读取的字节数
func (b *BoundedReader) Consumed() int64 {
	return b.consumed
}

// Truncated 报告是否因为达到上限而停止，而不是源数据读完
func (b *BoundedReader) Truncated() bool {
	return b.remaining <= 0 && !b.srcEOF
}
