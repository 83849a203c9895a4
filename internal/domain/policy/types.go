// Пакет policy — правила допуска файлов: группы типов файлов,
// запрещённые расширения, сигнатуры (magic numbers) и политики категорий.
package policy

import "strings"

// TypeGroup — группа родственных форматов с общим списком MIME-типов.
type TypeGroup string

const (
	GroupDocument     TypeGroup = "documento"
	GroupSpreadsheet  TypeGroup = "hoja_calculo"
	GroupPresentation TypeGroup = "presentacion"
	GroupImage        TypeGroup = "imagen"
)

// FileType — описание группы: допустимые расширения и MIME-типы.
type FileType struct {
	Group      TypeGroup
	Extensions []string
	MIMETypes  []string
}

// Списки расширений групп не пересекаются: расширение принадлежит
// ровно одной группе.
var fileTypes = []FileType{
	{
		Group:      GroupDocument,
		Extensions: []string{"pdf", "doc", "docx", "odt", "rtf", "txt"},
		MIMETypes: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.oasis.opendocument.text",
			"application/rtf",
			"text/rtf",
			"text/plain",
		},
	},
	{
		Group:      GroupSpreadsheet,
		Extensions: []string{"xls", "xlsx", "ods", "csv"},
		MIMETypes: []string{
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.oasis.opendocument.spreadsheet",
			"text/csv",
			"application/csv",
		},
	},
	{
		Group:      GroupPresentation,
		Extensions: []string{"ppt", "pptx", "odp"},
		MIMETypes: []string{
			"application/vnd.ms-powerpoint",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"application/vnd.oasis.opendocument.presentation",
		},
	},
	{
		Group:      GroupImage,
		Extensions: []string{"jpg", "jpeg", "png", "gif", "webp"},
		MIMETypes: []string{
			"image/jpeg",
			"image/jpg",
			"image/pjpeg",
			"image/png",
			"image/gif",
			"image/webp",
		},
	},
}

// GroupForExtension возвращает группу, которой принадлежит расширение.
// ok == false, если расширение не входит ни в одну группу или входит
// более чем в одну.
func GroupForExtension(ext string) (TypeGroup, bool) {
	ext = strings.ToLower(ext)

	var found TypeGroup
	matches := 0
	for _, ft := range fileTypes {
		for _, e := range ft.Extensions {
			if e == ext {
				found = ft.Group
				matches++
				break
			}
		}
	}
	if matches != 1 {
		return "", false
	}
	return found, true
}

// IsMIMEAllowed проверяет, входит ли MIME-тип в белый список группы.
// Параметры MIME (charset и т.д.) отбрасываются.
func IsMIMEAllowed(group TypeGroup, mime string) bool {
	mime = NormalizeMIME(mime)
	for _, ft := range fileTypes {
		if ft.Group != group {
			continue
		}
		for _, m := range ft.MIMETypes {
			if m == mime {
				return true
			}
		}
	}
	return false
}

// MIMETypes возвращает копию белого списка MIME-типов группы.
func MIMETypes(group TypeGroup) []string {
	for _, ft := range fileTypes {
		if ft.Group == group {
			out := make([]string, len(ft.MIMETypes))
			copy(out, ft.MIMETypes)
			return out
		}
	}
	return nil
}

// NormalizeMIME убирает параметры и приводит MIME-тип к нижнему регистру.
func NormalizeMIME(mime string) string {
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = mime[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// KnownExtension проверяет, что расширение принадлежит одной из групп.
func KnownExtension(ext string) bool {
	_, ok := GroupForExtension(ext)
	return ok
}
