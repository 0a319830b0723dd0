// naming.go — slug и имена объектов на диске.
package service

import (
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// maxSlugLen — ограничение длины slug в имени объекта.
const maxSlugLen = 64

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o",
	'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "h", 'ц': "ts",
	'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu",
	'я': "ya",
}

// Slugify строит URL-безопасный slug: латиница в нижнем регистре, цифры, дефисы.
// Кириллица транслитерируется, прочие символы заменяются дефисом.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case cyrillic[r] != "":
			b.WriteString(cyrillic[r])
			dash = false
		default:
			if _, ok := cyrillic[r]; ok {
				continue
			}
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	return out
}

// StorageName генерирует путь объекта:
// <dir>/<slug>_<yyyymmddhhmmss>_<uuid8>.<ext>.
// Имя клиента используется только как основа slug.
func StorageName(dir, originalName string, now time.Time, id uuid.UUID) string {
	ext := strings.ToLower(path.Ext(originalName))
	slug := Slugify(strings.TrimSuffix(originalName, path.Ext(originalName)))
	if slug == "" {
		slug = "file"
	}
	name := slug + "_" + now.UTC().Format("20060102150405") + "_" + id.String()[:8]
	if ext != "" && Slugify(ext[1:]) == ext[1:] {
		name += ext
	}
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
