// Пакет validation — проверка загружаемого файла по политике:
// размер, MIME-тип, безопасность имени.
//
// Все проверки выполняются независимо, причины отказа накапливаются.
// Проверка имени — блок-лист для дополнительной защиты, а не гарантия
// безопасности: имя на диске всегда генерируется сервером.
package validation

import (
	"fmt"
	"mime"
	"strings"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// Коды причин отказа.
const (
	CodeSizeExceeded   = "size_exceeded"
	CodeMIMENotAllowed = "mime_not_allowed"
	CodeFilenameUnsafe = "filename_unsafe"
)

// executableExtensions — запрещённые расширения (без учёта регистра).
var executableExtensions = []string{".bat", ".cmd", ".com", ".cpl", ".dll", ".exe", ".scr", ".pif"}

// unsafeFragments — запрещённые фрагменты имени.
var unsafeFragments = []string{"..", "__", "\\", "\x00", "<?php"}

// Candidate — загружаемый файл в том виде, как его заявил клиент.
type Candidate struct {
	// Name — оригинальное имя файла
	Name string
	// MimeType — заявленный MIME-тип
	MimeType string
	// Size — размер в байтах
	Size int64
}

// Policy — действующие ограничения загрузки.
type Policy struct {
	// MaxSize — максимальный размер в байтах (0 — без ограничения)
	MaxSize int64
	// AllowedMIME — разрешённые типы, допускается "image/*" (пусто — любые)
	AllowedMIME []string
}

// Unrestricted — политика без ограничений.
func Unrestricted() Policy {
	return Policy{}
}

// ForCategory возвращает собственную политику категории.
// Без собственных ограничений категория не ограничивает загрузку:
// родительские ограничения не наследуются.
func ForCategory(c *model.FileCategory) Policy {
	p := Policy{AllowedMIME: c.AllowedMIME}
	if c.MaxFileSize != nil {
		p.MaxSize = *c.MaxFileSize
	}
	return p
}

// Reason — причина отказа.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Failure — отказ проверки с полным списком причин.
type Failure struct {
	Reasons []Reason
}

func (f *Failure) Error() string {
	msgs := make([]string, len(f.Reasons))
	for i, r := range f.Reasons {
		msgs[i] = r.Message
	}
	return "файл не прошёл проверку: " + strings.Join(msgs, "; ")
}

// Has сообщает, есть ли среди причин причина с кодом code.
func (f *Failure) Has(code string) bool {
	for _, r := range f.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// Validate проверяет candidate по policy.
// Возвращает nil, если файл принят, иначе *Failure с причинами
// в порядке: размер, MIME-тип, имя.
func Validate(c Candidate, p Policy) *Failure {
	var reasons []Reason

	if p.MaxSize > 0 && c.Size > p.MaxSize {
		reasons = append(reasons, Reason{
			Code:    CodeSizeExceeded,
			Message: fmt.Sprintf("размер файла %d байт превышает допустимые %d байт", c.Size, p.MaxSize),
		})
	}

	if !MIMEAllowed(c.MimeType, p.AllowedMIME) {
		reasons = append(reasons, Reason{
			Code:    CodeMIMENotAllowed,
			Message: fmt.Sprintf("тип файла %q не разрешён", c.MimeType),
		})
	}

	if !SafeFilename(c.Name) {
		reasons = append(reasons, Reason{
			Code:    CodeFilenameUnsafe,
			Message: "недопустимое имя файла",
		})
	}

	if len(reasons) == 0 {
		return nil
	}
	return &Failure{Reasons: reasons}
}

// MIMEAllowed сообщает, разрешён ли тип mimeType списком allowed.
// Параметры типа (; charset=...) игнорируются.
func MIMEAllowed(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	mt := normalizeMIME(mimeType)
	if mt == "" {
		return false
	}
	for _, a := range allowed {
		a = normalizeMIME(a)
		if a == mt {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return true
		}
	}
	return false
}

// SafeFilename применяет блок-лист к имени файла.
func SafeFilename(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, frag := range unsafeFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	for _, ext := range executableExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}

func normalizeMIME(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
