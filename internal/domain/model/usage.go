package model

import (
	"fmt"
	"time"
)

// NearLimitPercent — порог «близко к лимиту».
const NearLimitPercent = 80.0

// OwnerKind — вид владельца квоты.
type OwnerKind string

const (
	OwnerUser       OwnerKind = "user"
	OwnerDepartment OwnerKind = "department"
)

// ParseOwnerKind преобразует строку в OwnerKind.
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch OwnerKind(s) {
	case OwnerUser, OwnerDepartment:
		return OwnerKind(s), nil
	default:
		return "", fmt.Errorf("недопустимый вид владельца %q, допустимые: user, department", s)
	}
}

// Owner — владелец квоты.
type Owner struct {
	Kind OwnerKind
	ID   int64
}

// String возвращает представление вида "kind:id".
func (o Owner) String() string {
	return fmt.Sprintf("%s:%d", o.Kind, o.ID)
}

// StorageUsage — счётчик использования хранилища по (владелец, диск).
type StorageUsage struct {
	OwnerKind OwnerKind
	OwnerID   int64
	Provider  string
	// UsedSpace — занято байт, не меньше нуля
	UsedSpace int64
	FileCount int64
	// QuotaLimit — лимит в байтах (0 — без ограничения)
	QuotaLimit int64
	// LastCalculatedAt — время последнего полного пересчёта
	LastCalculatedAt *time.Time
	UpdatedAt        time.Time
}

// Owner возвращает владельца счётчика.
func (u *StorageUsage) Owner() Owner {
	return Owner{Kind: u.OwnerKind, ID: u.OwnerID}
}

// Unlimited сообщает, отсутствует ли ограничение.
func (u *StorageUsage) Unlimited() bool {
	return u.QuotaLimit <= 0
}

// CanAccept сообщает, помещается ли загрузка size байт в квоту.
func (u *StorageUsage) CanAccept(size int64) bool {
	return CanAccept(u.UsedSpace, u.QuotaLimit, size)
}

// Percent возвращает процент использования; 0 при отсутствии лимита.
func (u *StorageUsage) Percent() float64 {
	if u.Unlimited() {
		return 0
	}
	return float64(u.UsedSpace) / float64(u.QuotaLimit) * 100
}

// NearLimit сообщает, достигнут ли порог 80%.
func (u *StorageUsage) NearLimit() bool {
	return !u.Unlimited() && u.Percent() >= NearLimitPercent
}

// Available возвращает свободный объём; -1 при отсутствии лимита.
func (u *StorageUsage) Available() int64 {
	if u.Unlimited() {
		return -1
	}
	return max(u.QuotaLimit-u.UsedSpace, 0)
}

// CanAccept — правило квоты: лимит 0 — без ограничения,
// иначе used + size <= limit.
func CanAccept(used, limit, size int64) bool {
	if limit <= 0 {
		return true
	}
	return used+size <= limit
}
