// Пакет disk — единый интерфейс к именованным дискам хранения
// (локальная файловая система, MinIO, S3).
//
// Вызывающий код работает только с именем диска и относительным путём,
// конкретный носитель определяется конфигурацией во время вызова.
// Ошибки ввода-вывода возвращаются как *IOError; повторы не выполняются.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrStorageIO — общая ошибка ввода-вывода носителя.
	ErrStorageIO = errors.New("ошибка ввода-вывода хранилища")
	// ErrNotExist — объект отсутствует на диске.
	ErrNotExist = errors.New("объект не найден на диске")
	// ErrUnknownDisk — диск с таким именем не сконфигурирован.
	ErrUnknownDisk = errors.New("диск не сконфигурирован")
	// ErrInvalidPath — путь выходит за пределы диска.
	ErrInvalidPath = errors.New("недопустимый путь")
)

// Disk — операции над одним носителем. Пути относительные, через "/".
type Disk interface {
	// Put записывает объект. Существующий объект перезаписывается.
	Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) error
	// Get открывает объект для чтения. Вызывающий обязан закрыть ReadCloser.
	Get(ctx context.Context, p string) (io.ReadCloser, error)
	Exists(ctx context.Context, p string) (bool, error)
	// Delete удаляет объект; ErrNotExist, если объекта нет.
	Delete(ctx context.Context, p string) error
	// URL возвращает постоянную ссылку на объект.
	URL(p string) string
	// TemporaryURL возвращает ссылку с ограниченным сроком действия.
	// Носители без поддержки таких ссылок возвращают постоянную.
	TemporaryURL(ctx context.Context, p string, ttl time.Duration) (string, error)
	Move(ctx context.Context, from, to string) error
	Copy(ctx context.Context, from, to string) error
	// List возвращает пути всех объектов с префиксом prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// IOError — ошибка носителя с контекстом для диагностики.
// Путь и диск предназначены для логов, а не для ответа клиенту.
type IOError struct {
	Op   string
	Disk string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s:%s: %v", e.Op, e.Disk, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is сопоставляет любую IOError с ErrStorageIO.
func (e *IOError) Is(target error) bool {
	return target == ErrStorageIO
}

// IsNotExist сообщает, вызвана ли ошибка отсутствием объекта.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// CleanPath нормализует относительный путь и запрещает выход за корень диска.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean("/" + p)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return cleaned, nil
}
