// 包 archive：公开数据月度归档包的下载、校验与解压
package archive

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"crime-etl/internal/logger"
	"crime-etl/internal/utils"
)

// DefaultBaseURL：归档根地址
const DefaultBaseURL = "https://data.police.uk/data/archive"

var (
	ErrArchiveNotFound  = errors.New("archive not found")
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
	ErrLatestUnknown    = errors.New("could not determine latest archive month")
)

var (
	md5Line   = regexp.MustCompile(`^[0-9a-f]{32}$`)
	monthName = regexp.MustCompile(`^(\d{4}-\d{2})\.zip$`)
	entryName = regexp.MustCompile(`^\d{4}-\d{2}-.+\.csv$`)
)

// 文档注释：归档下载器
// 背景：归档包体积大（数百 MB），下载写入 .partial 并支持 Range 断点续传；完成后改名为正式文件。
// 约束：
// - 正式文件已存在且未强制时跳过；
// - 404 返回 ErrArchiveNotFound；
// - Verify=true 时按索引页 MD5 校验，索引页缺少校验值只告警，不一致返回 ErrChecksumMismatch。
type Downloader struct {
	Client  *http.Client
	BaseURL string
	Dir     string
	Verify  bool
	Force   bool
}

func (d *Downloader) base() string {
	if d.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(d.BaseURL, "/")
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return logger.NewClient(30 * time.Minute)
}

// ZipPath：月份归档包的本地路径
func (d *Downloader) ZipPath(month string) string {
	return filepath.Join(d.Dir, month+".zip")
}

// Download 下载单月归档包，返回本地路径
func (d *Downloader) Download(ctx context.Context, month string) (string, error) {
	dst := d.ZipPath(month)
	if utils.FileExists(dst) && !d.Force {
		logger.L().Info("archive_exists", "month", month, "path", dst)
		return dst, nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", err
	}
	partial := dst + ".partial"
	if d.Force {
		_ = os.Remove(partial)
	}
	var offset int64
	if st, err := os.Stat(partial); err == nil {
		offset = st.Size()
	}
	url := d.base() + "/" + month + ".zip"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		logger.L().Info("archive_resume", "month", month, "offset", offset)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", month, err)
	}
	defer resp.Body.Close()
	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusNotFound:
		return "", fmt.Errorf("%s: %w", month, ErrArchiveNotFound)
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	default:
		return "", fmt.Errorf("download %s: status %d", month, resp.StatusCode)
	}
	f, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", month, err)
	}
	if err := os.Rename(partial, dst); err != nil {
		return "", err
	}
	logger.L().Info("archive_downloaded", "month", month, "bytes", offset+n, "path", dst)
	if d.Verify {
		if err := d.verify(ctx, month, dst); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func (d *Downloader) verify(ctx context.Context, month, file string) error {
	want, err := d.Checksum(ctx, month)
	if err != nil || want == "" {
		logger.L().Warn("archive_checksum_unavailable", "month", month, "err", err)
		return nil
	}
	got, err := fileMD5(file)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s: %w: want %s got %s", month, ErrChecksumMismatch, want, got)
	}
	logger.L().Info("archive_checksum_ok", "month", month)
	return nil
}

// 文档注释：从归档索引页读取月份包的 MD5
// 约束：在文件名之后的若干行内寻找 32 位十六进制串；找不到返回空串。
func (d *Downloader) Checksum(ctx context.Context, month string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base()+"/", nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("index status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return findChecksum(string(b), month+".zip"), nil
}

func findChecksum(page, name string) string {
	i := strings.Index(page, name)
	if i < 0 {
		return ""
	}
	section := page[i:min(i+500, len(page))]
	lines := strings.Split(section, "\n")
	for j := 1; j < len(lines) && j < 5; j++ {
		if l := strings.TrimSpace(lines[j]); md5Line.MatchString(l) {
			return l
		}
	}
	return ""
}

func fileMD5(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Latest 解析 latest.zip 的跳转目标，得到最新归档月份
func (d *Downloader) Latest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.base()+"/latest.zip", nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("latest: %w", err)
	}
	resp.Body.Close()
	m := monthName.FindStringSubmatch(path.Base(resp.Request.URL.Path))
	if m == nil {
		return "", ErrLatestUnknown
	}
	return m[1], nil
}

// DownloadRange 依次下载各月；单月失败不影响其他月份，返回成功数与汇总错误
func (d *Downloader) DownloadRange(ctx context.Context, months []string) (int, error) {
	ok := 0
	var errs []error
	for _, m := range months {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := d.Download(ctx, m); err != nil {
			logger.L().Warn("archive_download_error", "month", m, "err", err)
			errs = append(errs, err)
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// 文档注释：解压指定警区的 CSV 到月份目录
// 背景：归档包含全国所有警区，按 {YYYY-MM}/{YYYY-MM}-{force}-{kind}.csv 组织；只需要目标警区的文件。
// 约束：条目按文件名落到 {dest}/{YYYY-MM}/，忽略包内目录结构；已存在的文件除非 force 否则跳过。
func Extract(zipPath, dest, force string, overwrite bool) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer zr.Close()
	n := 0
	for _, f := range zr.File {
		name := path.Base(f.Name)
		if !entryName.MatchString(name) || !strings.Contains(name, "-"+force+"-") {
			continue
		}
		out := filepath.Join(dest, name[:7], name)
		if utils.FileExists(out) && !overwrite {
			continue
		}
		if err := extractFile(f, out); err != nil {
			return n, err
		}
		n++
	}
	logger.L().Info("archive_extracted", "zip", zipPath, "files", n)
	return n, nil
}

func extractFile(f *zip.File, out string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	return utils.WriteFileAtomic(out, func(w io.Writer) error {
		_, err := io.Copy(w, rc)
		return err
	})
}
