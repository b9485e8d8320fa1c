package transfer

import (
	"fmt"
	"io"
	"os"
)

// SourceReader 抽象按区间读取上传源的能力
// 入队时根据来源形态选择实现：磁盘文件走 FileSource，内存数据走 BufferSource
type SourceReader interface {
	// ReadRange 精确读取 [start, start+size) 区间的字节
	ReadRange(start, size int64) ([]byte, error)
	Close() error
}

// FileSource 基于 *os.File 的随机读实现
type FileSource struct {
	f *os.File
}

// OpenFileSource 打开磁盘文件作为上传源
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: 打开源文件失败: %w", err)
	}
	return &FileSource{f: f}, nil
}

// NewFileSource 直接包装一个已打开的文件
func NewFileSource(f *os.File) *FileSource {
	return &FileSource{f: f}
}

func (s *FileSource) ReadRange(start, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := s.f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("source: 读取区间 [%d,%d) 失败: %w", start, start+size, err)
	}
	if int64(n) != size {
		return nil, fmt.Errorf("source: 读取区间 [%d,%d) 不完整: 只读到 %d 字节", start, start+size, n)
	}
	return buf, nil
}

func (s *FileSource) Close() error {
	return s.f.Close()
}

// BufferSource 基于内存字节切片的实现，主要用于测试和小对象
type BufferSource struct {
	data []byte
}

func NewBufferSource(data []byte) *BufferSource {
	return &BufferSource{data: data}
}

func (s *BufferSource) ReadRange(start, size int64) ([]byte, error) {
	if start < 0 || start+size > int64(len(s.data)) {
		return nil, fmt.Errorf("source: 区间 [%d,%d) 超出数据范围 %d", start, start+size, len(s.data))
	}
	out := make([]byte, size)
	copy(out, s.data[start:start+size])
	return out, nil
}

func (s *BufferSource) Close() error {
	return nil
}
