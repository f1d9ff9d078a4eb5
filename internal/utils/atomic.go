// 包 utils：文件落盘工具，统一"写临时文件再原子改名"的持久化方式
package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempSuffix：原子写入使用的临时文件后缀
const TempSuffix = ".tmp"

// 文档注释：原子写文件
// 背景：阶段输出是下一阶段的检查点，进程中断时不得留下半截的目标文件。
// 约束：先写 path+".tmp" 并 fsync，再 rename 覆盖 path；任何一步失败都返回错误，且保留临时文件供人工恢复。
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	tmp := path + TempSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	bw := bufio.NewWriterSize(f, 1<<16)
	if err := write(bw); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// FileExists：路径存在且为普通文件
func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// DirExists：路径存在且为目录
func DirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
