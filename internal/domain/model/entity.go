package model

import "fmt"

// EntityKind — вид сущности, к которой может быть привязан файл
// или которой может быть выдан доступ.
type EntityKind string

const (
	KindUser       EntityKind = "user"
	KindDepartment EntityKind = "department"
	KindTeam       EntityKind = "team"
	KindProject    EntityKind = "project"
	KindCustomer   EntityKind = "customer"
	KindTicket     EntityKind = "ticket"
	KindInvoice    EntityKind = "invoice"
)

// EntityKinds — все известные виды сущностей.
var EntityKinds = []EntityKind{
	KindUser, KindDepartment, KindTeam, KindProject, KindCustomer, KindTicket, KindInvoice,
}

// ParseEntityKind преобразует строку в EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	for _, k := range EntityKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("неизвестный вид сущности %q", s)
}

// EntityRef — ссылка на сущность: вид + числовой идентификатор.
// Используется для привязки файла (attachment) и получателя доступа (grantee).
type EntityRef struct {
	Kind EntityKind
	ID   int64
}

// NewEntityRef проверяет вид и идентификатор и возвращает ссылку.
func NewEntityRef(kind string, id int64) (*EntityRef, error) {
	k, err := ParseEntityKind(kind)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, fmt.Errorf("идентификатор сущности %s должен быть положительным", kind)
	}
	return &EntityRef{Kind: k, ID: id}, nil
}

// String возвращает представление вида "kind:id".
func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}
