package registry

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/openagentbroker/acpbroker/internal/apperror"
)

// Downloader fetches and extracts native-binary agent archives, grounded
// directly on DownloadService in the original implementation.
type Downloader struct {
	downloadsDir string
	agentsDir    string
	client       *http.Client
}

// NewDownloader constructs a Downloader staging archives under downloadsDir
// and installing them under agentsDir/<id>/<version>/.
func NewDownloader(downloadsDir, agentsDir string) *Downloader {
	return &Downloader{
		downloadsDir: downloadsDir,
		agentsDir:    agentsDir,
		client:       &http.Client{Timeout: 5 * time.Minute},
	}
}

// DownloadAndExtract fetches archiveURL, extracts it using the format
// implied by the URL suffix, and returns the path to the resolved
// executable named cmdName.
func (d *Downloader) DownloadAndExtract(ctx context.Context, agentID, version, archiveURL, cmdName string) (string, error) {
	installDir := filepath.Join(d.agentsDir, agentID, version)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return "", apperror.IOErr(err, "creating install directory")
	}
	if err := os.MkdirAll(d.downloadsDir, 0o755); err != nil {
		return "", apperror.IOErr(err, "creating downloads directory")
	}

	archiveName := basename(archiveURL)
	downloadPath := filepath.Join(d.downloadsDir, archiveName)

	if err := d.download(ctx, archiveURL, downloadPath); err != nil {
		return "", err
	}
	defer os.Remove(downloadPath)

	lower := strings.ToLower(archiveURL)
	var err error
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		err = extractTarGz(downloadPath, installDir)
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(downloadPath, installDir)
	case strings.HasSuffix(lower, ".gz"):
		err = extractGz(downloadPath, installDir, cmdName)
	default:
		err = copyPlainBinary(downloadPath, filepath.Join(installDir, cmdName))
	}
	if err != nil {
		return "", err
	}

	path, err := findExecutable(installDir, cmdName)
	if err != nil {
		return "", err
	}
	if err := makeExecutable(path); err != nil {
		return "", err
	}
	return path, nil
}

func basename(url string) string {
	parts := strings.Split(url, "/")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return "archive"
	}
	return parts[len(parts)-1]
}

func (d *Downloader) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperror.OtherErr("failed to build download request: %v", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return apperror.OtherErr("download failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperror.OtherErr("download failed: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return apperror.IOErr(err, "creating download file %s", dest)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return apperror.IOErr(err, "writing download file %s", dest)
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apperror.IOErr(err, "opening archive %s", archivePath)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return apperror.IOErr(err, "reading gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperror.IOErr(err, "reading tar entry")
		}
		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			continue // guard against path traversal ("zip slip") in the archive
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperror.IOErr(err, "creating directory %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return apperror.IOErr(err, "creating directory %s", filepath.Dir(target))
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return apperror.IOErr(err, "creating file %s", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return apperror.IOErr(err, "extracting file %s", target)
			}
			out.Close()
		}
	}
}

func extractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return apperror.IOErr(err, "opening zip %s", archivePath)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperror.IOErr(err, "creating directory %s", target)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return apperror.IOErr(err, "creating directory %s", filepath.Dir(target))
		}
		rc, err := f.Open()
		if err != nil {
			return apperror.IOErr(err, "opening zip entry %s", f.Name)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			rc.Close()
			return apperror.IOErr(err, "creating file %s", target)
		}
		_, copyErr := io.Copy(out, rc)
		out.Close()
		rc.Close()
		if copyErr != nil {
			return apperror.IOErr(copyErr, "extracting file %s", target)
		}
	}
	return nil
}

func extractGz(archivePath, dest, cmdName string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apperror.IOErr(err, "opening archive %s", archivePath)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return apperror.IOErr(err, "reading gzip stream")
	}
	defer gz.Close()

	outPath := filepath.Join(dest, cmdName)
	out, err := os.Create(outPath)
	if err != nil {
		return apperror.IOErr(err, "creating file %s", outPath)
	}
	defer out.Close()
	if _, err := io.Copy(out, gz); err != nil {
		return apperror.IOErr(err, "extracting file %s", outPath)
	}
	return makeExecutable(outPath)
}

func copyPlainBinary(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperror.IOErr(err, "opening %s", src)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return apperror.IOErr(err, "creating %s", dest)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return apperror.IOErr(err, "copying %s", dest)
	}
	return makeExecutable(dest)
}

func makeExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperror.IOErr(err, "stat %s", path)
	}
	return os.Chmod(path, info.Mode()|0o755)
}

// findExecutable locates the installed binary: exact name at the root,
// then name.exe on Windows, then a recursive search, per the original's
// find_executable/find_executable_recursive.
func findExecutable(dir, cmdName string) (string, error) {
	exact := filepath.Join(dir, cmdName)
	if fileExists(exact) {
		return exact, nil
	}
	if runtime.GOOS == "windows" {
		winExact := filepath.Join(dir, cmdName+".exe")
		if fileExists(winExact) {
			return winExact, nil
		}
	}
	if found := findExecutableRecursive(dir, cmdName); found != "" {
		return found, nil
	}
	return "", apperror.OtherErr("executable %q not found in %s", cmdName, dir)
}

func findExecutableRecursive(dir, name string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if found := findExecutableRecursive(path, name); found != "" {
				return found
			}
			continue
		}
		if entry.Name() == name || entry.Name() == name+".exe" {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
