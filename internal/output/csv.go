package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
)

// CSVWriter 表头在前、逐行追加的 CSV 输出
type CSVWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	rows   int
	closed bool
}

// NewCSVWriter 写入表头
func NewCSVWriter(w io.Writer, header []string) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	if err := cw.w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	cw.w.Flush()
	return cw, cw.w.Error()
}

// CreateCSV 新建（覆盖）文件并写入表头
func CreateCSV(path string, header []string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv file: %w", err)
	}
	cw, err := NewCSVWriter(f, header)
	if err != nil {
		f.Close()
		return nil, err
	}
	return cw, nil
}

// WriteRows 追加多行并立即刷新
func (c *CSVWriter) WriteRows(rows [][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		if err := c.w.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
		c.rows++
	}
	c.w.Flush()
	return c.w.Error()
}

// Rows 已写入的数据行数（不含表头）
func (c *CSVWriter) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Close 刷新并关闭底层文件，重复调用返回 nil
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		if c.closer != nil {
			c.closer.Close()
		}
		return err
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
