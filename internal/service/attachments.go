// attachments.go — разрешение ссылок на сущности (привязка файла,
// получатель share-ссылки) через реестр по виду сущности.
package service

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// Resolver проверяет существование сущности одного вида.
type Resolver interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// ResolverFunc — адаптер функции к Resolver.
type ResolverFunc func(ctx context.Context, id int64) (bool, error)

// Exists вызывает f.
func (f ResolverFunc) Exists(ctx context.Context, id int64) (bool, error) {
	return f(ctx, id)
}

// AcceptAny принимает любой положительный идентификатор.
// Используется для видов, чей каталог живёт вне File Manager.
var AcceptAny Resolver = ResolverFunc(func(_ context.Context, id int64) (bool, error) {
	return id > 0, nil
})

// AttachmentRegistry — реестр Resolver по видам сущностей.
type AttachmentRegistry struct {
	resolvers map[model.EntityKind]Resolver
}

// NewAttachmentRegistry создаёт пустой реестр.
func NewAttachmentRegistry() *AttachmentRegistry {
	return &AttachmentRegistry{resolvers: make(map[model.EntityKind]Resolver)}
}

// DefaultAttachmentRegistry регистрирует AcceptAny для всех видов.
func DefaultAttachmentRegistry() *AttachmentRegistry {
	r := NewAttachmentRegistry()
	for _, k := range model.EntityKinds {
		r.Register(k, AcceptAny)
	}
	return r
}

// Register задаёт Resolver для вида kind.
func (r *AttachmentRegistry) Register(kind model.EntityKind, res Resolver) {
	r.resolvers[kind] = res
}

// Resolve проверяет ссылку. nil — нет привязки, ошибки нет.
func (r *AttachmentRegistry) Resolve(ctx context.Context, ref *model.EntityRef) error {
	if ref == nil {
		return nil
	}
	res, ok := r.resolvers[ref.Kind]
	if !ok {
		return validationErr("вид сущности %q не поддерживается", ref.Kind)
	}
	exists, err := res.Exists(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("ошибка проверки сущности %s: %w", ref, err)
	}
	if !exists {
		return validationErr("сущность %s не найдена", ref)
	}
	return nil
}
