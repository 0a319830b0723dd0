package disk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
)

// Manager разрешает имя диска во время вызова и оборачивает
// ошибки носителей в *IOError.
type Manager struct {
	disks       map[string]Disk
	defaultDisk string
	logger      *slog.Logger
}

// NewManager создаёт Manager из готовых дисков.
func NewManager(disks map[string]Disk, defaultDisk string, logger *slog.Logger) (*Manager, error) {
	if _, ok := disks[defaultDisk]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDisk, defaultDisk)
	}
	return &Manager{
		disks:       disks,
		defaultDisk: defaultDisk,
		logger:      logger.With(slog.String("component", "disk_manager")),
	}, nil
}

// NewManagerFromConfig создаёт драйверы всех сконфигурированных дисков.
func NewManagerFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	disks := make(map[string]Disk, len(cfg.Disks))
	for _, dc := range cfg.Disks {
		var (
			d   Disk
			err error
		)
		switch dc.Driver {
		case config.DriverLocal:
			d, err = NewLocal(dc.Root, dc.BaseURL)
		case config.DriverMinio:
			d, err = NewMinio(ctx, dc)
		case config.DriverS3:
			d, err = NewS3(dc)
		default:
			err = fmt.Errorf("неизвестный драйвер %q", dc.Driver)
		}
		if err != nil {
			return nil, fmt.Errorf("диск %s: %w", dc.Name, err)
		}
		disks[dc.Name] = d
		logger.Info("Диск хранения подключён",
			slog.String("disk", dc.Name),
			slog.String("driver", dc.Driver),
		)
	}
	return NewManager(disks, cfg.DefaultDisk, logger)
}

// DefaultDisk возвращает имя диска по умолчанию.
func (m *Manager) DefaultDisk() string {
	return m.defaultDisk
}

// Names возвращает имена всех дисков в алфавитном порядке.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.disks))
	for name := range m.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disk возвращает диск по имени; пустое имя — диск по умолчанию.
func (m *Manager) Disk(name string) (Disk, string, error) {
	if name == "" {
		name = m.defaultDisk
	}
	d, ok := m.disks[name]
	if !ok {
		return nil, name, fmt.Errorf("%w: %s", ErrUnknownDisk, name)
	}
	return d, name, nil
}

// Put записывает объект на диск diskName.
func (m *Manager) Put(ctx context.Context, diskName, p string, r io.Reader, size int64, contentType string) error {
	return m.do("put", diskName, p, func(d Disk, clean string) error {
		return d.Put(ctx, clean, r, size, contentType)
	})
}

// Get открывает объект на диске diskName.
func (m *Manager) Get(ctx context.Context, diskName, p string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := m.do("get", diskName, p, func(d Disk, clean string) error {
		var err error
		rc, err = d.Get(ctx, clean)
		return err
	})
	return rc, err
}

// Exists проверяет наличие объекта.
func (m *Manager) Exists(ctx context.Context, diskName, p string) (bool, error) {
	var ok bool
	err := m.do("exists", diskName, p, func(d Disk, clean string) error {
		var err error
		ok, err = d.Exists(ctx, clean)
		return err
	})
	return ok, err
}

// Delete удаляет объект. Отсутствие объекта — ошибка, для которой IsNotExist == true.
func (m *Manager) Delete(ctx context.Context, diskName, p string) error {
	return m.do("delete", diskName, p, func(d Disk, clean string) error {
		return d.Delete(ctx, clean)
	})
}

// URL возвращает постоянную ссылку.
func (m *Manager) URL(diskName, p string) (string, error) {
	var u string
	err := m.do("url", diskName, p, func(d Disk, clean string) error {
		u = d.URL(clean)
		return nil
	})
	return u, err
}

// TemporaryURL возвращает ссылку с ограниченным сроком действия.
func (m *Manager) TemporaryURL(ctx context.Context, diskName, p string, ttl time.Duration) (string, error) {
	var u string
	err := m.do("temporary_url", diskName, p, func(d Disk, clean string) error {
		var err error
		u, err = d.TemporaryURL(ctx, clean, ttl)
		return err
	})
	return u, err
}

// Move перемещает объект в пределах диска.
func (m *Manager) Move(ctx context.Context, diskName, from, to string) error {
	return m.do("move", diskName, from, func(d Disk, clean string) error {
		dst, err := CleanPath(to)
		if err != nil {
			return err
		}
		return d.Move(ctx, clean, dst)
	})
}

// Copy копирует объект в пределах диска.
func (m *Manager) Copy(ctx context.Context, diskName, from, to string) error {
	return m.do("copy", diskName, from, func(d Disk, clean string) error {
		dst, err := CleanPath(to)
		if err != nil {
			return err
		}
		return d.Copy(ctx, clean, dst)
	})
}

// List возвращает пути объектов с префиксом prefix.
func (m *Manager) List(ctx context.Context, diskName, prefix string) ([]string, error) {
	d, name, err := m.Disk(diskName)
	if err != nil {
		return nil, &IOError{Op: "list", Disk: name, Path: prefix, Err: err}
	}
	paths, err := d.List(ctx, prefix)
	if err != nil {
		return nil, &IOError{Op: "list", Disk: name, Path: prefix, Err: err}
	}
	return paths, nil
}

// do разрешает диск и путь, выполняет fn и оборачивает ошибку в *IOError.
func (m *Manager) do(op, diskName, p string, fn func(d Disk, clean string) error) error {
	d, name, err := m.Disk(diskName)
	if err != nil {
		return &IOError{Op: op, Disk: name, Path: p, Err: err}
	}
	clean, err := CleanPath(p)
	if err != nil {
		return &IOError{Op: op, Disk: name, Path: p, Err: err}
	}
	if err := fn(d, clean); err != nil {
		if !IsNotExist(err) {
			m.logger.Warn("Ошибка операции с диском",
				slog.String("op", op),
				slog.String("disk", name),
				slog.String("path", clean),
				slog.String("error", err.Error()),
			)
		}
		return &IOError{Op: op, Disk: name, Path: clean, Err: err}
	}
	return nil
}
