package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalDisk — диск на локальной файловой системе.
type LocalDisk struct {
	// root — корневая директория диска
	root string
	// baseURL — префикс публичных ссылок
	baseURL string
}

// NewLocal создаёт локальный диск. Создаёт корневую директорию,
// если она не существует.
func NewLocal(root, baseURL string) (*LocalDisk, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", root, err)
	}
	return &LocalDisk{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root возвращает корневую директорию диска.
func (d *LocalDisk) Root() string {
	return d.root
}

func (d *LocalDisk) full(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(p))
}

// Put записывает объект: temp файл → запись → fsync → атомарный rename.
// При ошибке temp файл удаляется.
func (d *LocalDisk) Put(ctx context.Context, p string, r io.Reader, _ int64, _ string) error {
	fullPath := d.full(p)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}
	tmpPath := fullPath + "." + uuid.New().String()[:8] + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, contextReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

func (d *LocalDisk) Get(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(d.full(p))
	if err != nil {
		return nil, localErr(err)
	}
	return f, nil
}

func (d *LocalDisk) Exists(_ context.Context, p string) (bool, error) {
	info, err := os.Stat(d.full(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (d *LocalDisk) Delete(_ context.Context, p string) error {
	if err := os.Remove(d.full(p)); err != nil {
		return localErr(err)
	}
	return nil
}

func (d *LocalDisk) URL(p string) string {
	if d.baseURL == "" {
		return "/" + p
	}
	return d.baseURL + "/" + p
}

// TemporaryURL — локальный диск не подписывает ссылки, возвращается постоянная.
func (d *LocalDisk) TemporaryURL(_ context.Context, p string, _ time.Duration) (string, error) {
	return d.URL(p), nil
}

func (d *LocalDisk) Move(_ context.Context, from, to string) error {
	if _, err := os.Stat(d.full(from)); err != nil {
		return localErr(err)
	}
	if err := os.MkdirAll(filepath.Dir(d.full(to)), 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}
	if err := os.Rename(d.full(from), d.full(to)); err != nil {
		return localErr(err)
	}
	return nil
}

func (d *LocalDisk) Copy(ctx context.Context, from, to string) error {
	src, err := os.Open(d.full(from))
	if err != nil {
		return localErr(err)
	}
	defer src.Close()
	return d.Put(ctx, to, src, -1, "")
}

// List возвращает объекты, путь которых начинается с prefix.
// Временные файлы пропускаются.
func (d *LocalDisk) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	var result []string

	err := filepath.WalkDir(d.root, func(fullPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() || strings.HasSuffix(fullPath, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(d.root, fullPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			result = append(result, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода директории: %w", err)
	}
	return result, nil
}

// localErr приводит отсутствие файла к ErrNotExist.
func localErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	}
	return err
}

// contextReader прерывает чтение при отмене контекста.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
