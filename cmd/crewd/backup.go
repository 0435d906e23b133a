package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/pliakos/crewd/internal/config"
)

// backupTargets maps archive component names to the on-disk directories they
// cover. The component name is the first path element of every tar entry, so
// a restore can route entries back even when the directories moved.
func backupTargets(cfg *config.Config) map[string]string {
	return map[string]string{
		"store": filepath.Dir(cfg.Store.Path),
		"nats":  cfg.NATS.DataDir,
	}
}

func runBackup(args []string) error {
	var outputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: crewd backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	files, err := writeArchive(outputPath, backupTargets(cfg))
	if err != nil {
		return err
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

// writeArchive streams every target directory into a zstd-compressed tar,
// entries prefixed with the component name. Missing directories are skipped
// with a warning so a fresh install still produces a valid archive.
func writeArchive(outputPath string, targets map[string]string) (int, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	files := 0
	for _, name := range names {
		dir := targets[name]
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			slog.Warn("backup target missing, skipping", "name", name, "dir", dir)
			continue
		}

		slog.Info("backing up", "name", name, "dir", dir)
		n, err := archiveDir(tw, name, dir)
		if err != nil {
			return 0, fmt.Errorf("archive %s: %w", name, err)
		}
		files += n
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}

	return files, nil
}

func archiveDir(tw *tar.Writer, name, dir string) (int, error) {
	files := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// Sockets, pipes and the like have no place in a backup.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(name, filepath.ToSlash(rel))
		if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}

		if info.Mode().IsRegular() && info.Size() > 0 {
			src, err := os.Open(p)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, src)
			src.Close()
			if err != nil {
				return fmt.Errorf("write tar data: %w", err)
			}
		}
		if info.Mode().IsRegular() {
			files++
		}
		return nil
	})
	return files, err
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: crewd restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	files, err := restoreArchive(inputPath, backupTargets(cfg), overwrite)
	if err != nil {
		return err
	}

	fmt.Printf("Restore complete: %d files\n", files)
	return nil
}

// restoreArchive extracts a backup into the target directories. Without
// overwrite it refuses to touch a non-empty target, so an accidental restore
// over live data fails before anything is written.
func restoreArchive(inputPath string, targets map[string]string, overwrite bool) (int, error) {
	if !overwrite {
		for name, dir := range targets {
			nonEmpty, err := dirNonEmpty(dir)
			if err != nil {
				return 0, fmt.Errorf("check %s: %w", name, err)
			}
			if nonEmpty {
				return 0, fmt.Errorf("%s is not empty, add -overwrite to replace files", dir)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read tar entry: %w", err)
		}

		name, rel := splitArchivePath(hdr.Name)
		dir, ok := targets[name]
		if !ok || rel == "" {
			slog.Warn("skipping unknown archive entry", "entry", hdr.Name)
			continue
		}

		dest := filepath.Join(dir, filepath.FromSlash(rel))
		// Join cleans the path; an entry trying to climb out of the target
		// lands outside dir and is rejected here.
		if dest != dir && !strings.HasPrefix(dest, dir+string(os.PathSeparator)) {
			return 0, fmt.Errorf("archive entry escapes target dir: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return 0, fmt.Errorf("create dir: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return 0, fmt.Errorf("create dir: %w", err)
			}
			out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return 0, fmt.Errorf("create file: %w", err)
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return 0, fmt.Errorf("write file: %w", err)
			}
			files++
		}
	}

	return files, nil
}

// splitArchivePath splits "store/some/file" into ("store", "some/file").
func splitArchivePath(name string) (component, relPath string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return name, "."
	}

	component = name[:idx]
	relPath = strings.TrimSuffix(name[idx+1:], "/")
	if relPath == "" {
		relPath = "."
	}
	return component, relPath
}

func dirNonEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
