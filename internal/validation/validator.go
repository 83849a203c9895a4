package validation

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
	"github.com/bigkaa/portfolio-uploads/internal/domain/policy"
)

// HeadSize — сколько первых байт файла нужно валидатору.
const HeadSize = 3072

// maxFilenameLength — максимальная длина имени файла в символах.
const maxFilenameLength = 255

// forbiddenChars — символы, недопустимые в имени файла.
const forbiddenChars = `/\:*?"<>|`

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Input — данные для проверки одного файла.
type Input struct {
	// Filename — исходное имя файла от клиента
	Filename string
	// DeclaredMIME — Content-Type части multipart
	DeclaredMIME string
	// Head — первые байты содержимого (до HeadSize)
	Head []byte
	// Size — полный размер содержимого в байтах
	Size int64
	// Category — целевая категория загрузки
	Category string
	// Path — путь к временному файлу; если задан, PDF сканируется целиком
	Path string
	// ReceivedAt — время получения файла
	ReceivedAt time.Time
}

// Validator проверяет файлы по политикам категорий.
type Validator struct {
	categories *policy.Registry
}

// NewValidator создаёт валидатор для реестра категорий.
func NewValidator(categories *policy.Registry) *Validator {
	return &Validator{categories: categories}
}

// CheckName выполняет проверки, не требующие содержимого: категория,
// запрещённое/неизвестное расширение, допустимость для категории и
// правила имени файла. Используется до чтения тела файла.
func (v *Validator) CheckName(filename, category string) *model.ValidationResult {
	result := model.NewValidationResult()
	result.Info.Name = filename
	result.Info.Extension = Extension(filename)

	p, ok := v.categories.Get(category)
	if !ok {
		result.Fail(apierrors.CodeInvalidCategory,
			fmt.Sprintf("Неизвестная категория загрузки: %q", category))
		return result
	}

	if !v.checkExtension(result, p) {
		return result
	}
	checkFilename(result, filename)
	return result
}

// Validate выполняет полную проверку файла. Жёсткие ошибки делают
// результат невалидным, предупреждения загрузку не блокируют.
func (v *Validator) Validate(in Input) *model.ValidationResult {
	result := model.NewValidationResult()
	ext := Extension(in.Filename)
	result.Info = model.FileInfo{
		Name:      in.Filename,
		Extension: ext,
		Size:      in.Size,
		CreatedAt: in.ReceivedAt,
	}
	if in.Path != "" {
		if st, err := os.Stat(in.Path); err == nil {
			result.Info.ModifiedAt = st.ModTime().UTC()
		}
	}

	p, ok := v.categories.Get(in.Category)
	if !ok {
		result.Fail(apierrors.CodeInvalidCategory,
			fmt.Sprintf("Неизвестная категория загрузки: %q", in.Category))
		return result
	}

	// 1–2. Запрещённые и недопустимые для категории расширения.
	if !v.checkExtension(result, p) {
		return result
	}
	group, _ := policy.GroupForExtension(ext)

	// 3. Заявленный MIME-тип.
	declared := policy.NormalizeMIME(in.DeclaredMIME)
	if !policy.IsMIMEAllowed(group, declared) {
		result.Fail(apierrors.CodeInvalidMIMEType,
			fmt.Sprintf("MIME-тип %q не допустим для расширения .%s", declared, ext))
		result.SetContext("mime_type", declared)
	}

	// 4. Сигнатура содержимого.
	if !policy.MatchesSignature(ext, in.Head) {
		result.Fail(apierrors.CodeMagicNumberMismatch,
			fmt.Sprintf("Содержимое файла не соответствует расширению .%s", ext))
	}

	// 5. Размер.
	maxSize := v.categories.MaxSizeFor(p)
	switch {
	case in.Size < 1:
		result.Fail(apierrors.CodeEmptyFile, "Файл пуст")
	case in.Size > maxSize:
		result.Fail(apierrors.CodeFileTooLarge, TooLargeMessage(p.Name, maxSize))
		result.SetContext("max_size", maxSize)
		result.SetContext("max_size_mb", FormatMB(maxSize))
	}

	// 6. Имя файла.
	checkFilename(result, in.Filename)

	v.addWarnings(result, in, group)
	return result
}

// checkExtension — шаги 1 и 2. Возвращает false, если дальнейшие проверки
// бессмысленны.
func (v *Validator) checkExtension(result *model.ValidationResult, p policy.CategoryPolicy) bool {
	ext := result.Info.Extension
	if ext == "" {
		result.Fail(apierrors.CodeInvalidExtension, "У файла нет расширения")
		return false
	}
	if cat, prohibited := policy.ProhibitedCategory(ext); prohibited {
		result.Fail(apierrors.CodeInvalidExtension,
			fmt.Sprintf("Расширение .%s запрещено (%s)", ext, cat))
		return false
	}
	group, ok := policy.GroupForExtension(ext)
	if !ok {
		result.Fail(apierrors.CodeInvalidExtension,
			fmt.Sprintf("Расширение .%s не поддерживается", ext))
		return false
	}
	if !p.Allows(group, ext) {
		result.Fail(p.RejectCode,
			fmt.Sprintf("Расширение .%s не допускается для категории %s, допустимы: %s",
				ext, p.Name, strings.Join(p.AllowedExtensions(), ", ")))
		result.SetContext("allowed_extensions", p.AllowedExtensions())
		return false
	}
	return true
}

func checkFilename(result *model.ValidationResult, name string) {
	if utf8.RuneCountInString(name) > maxFilenameLength {
		result.Fail(apierrors.CodeFilenameTooLong,
			fmt.Sprintf("Имя файла длиннее %d символов", maxFilenameLength))
	}

	if strings.Trim(name, ". ") == "" {
		result.Fail(apierrors.CodeInvalidFilename, "Имя файла состоит только из точек или пробелов")
		return
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(forbiddenChars, r) {
			result.Fail(apierrors.CodeInvalidFilename,
				fmt.Sprintf("Имя файла содержит недопустимый символ %q", r))
			break
		}
	}

	base := name
	if idx := strings.Index(base, "."); idx != -1 {
		base = base[:idx]
	}
	if reservedNames[strings.ToUpper(strings.TrimSpace(base))] {
		result.Fail(apierrors.CodeReservedFilename,
			fmt.Sprintf("Имя %q зарезервировано системой", base))
	}
}

func (v *Validator) addWarnings(result *model.ValidationResult, in Input, group policy.TypeGroup) {
	name := in.Filename
	ext := result.Info.Extension

	if strings.Contains(name, " ") {
		result.Warn("Имя файла содержит пробелы")
	}
	if name != strings.ToLower(name) {
		result.Warn("Имя файла содержит заглавные буквы")
	}

	for _, w := range ScanHead(in.Head) {
		result.Warn(w)
	}

	if ext == "pdf" {
		for _, w := range v.scanPDF(in) {
			result.Warn(w)
		}
	}
	if policy.IsOfficeXML(ext) {
		for _, w := range ScanOfficeXML(in.Head) {
			result.Warn(w)
		}
	}

	if sniffed, mismatch := SniffMismatch(ext, group, in.Head); mismatch {
		result.Warn(fmt.Sprintf("Определённый по содержимому тип %s не соответствует расширению .%s", sniffed, ext))
	}
}

func (v *Validator) scanPDF(in Input) []string {
	if in.Path == "" {
		ws, _ := ScanPDF(bytes.NewReader(in.Head))
		return ws
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return []string{"Не удалось проверить содержимое PDF"}
	}
	defer f.Close()
	ws, err := ScanPDF(f)
	if err != nil {
		return []string{"Не удалось проверить содержимое PDF"}
	}
	return ws
}

// SniffMismatch определяет тип содержимого по первым байтам и сообщает,
// если он не входит в белый список группы. Общие контейнерные типы
// (ZIP, OLE, text/plain, octet-stream) расхождением не считаются.
func SniffMismatch(ext string, group policy.TypeGroup, head []byte) (string, bool) {
	if len(head) == 0 {
		return "", false
	}
	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if policy.IsMIMEAllowed(group, m.String()) {
			return "", false
		}
	}
	switch policy.NormalizeMIME(detected.String()) {
	case "application/octet-stream", "text/plain", "application/zip", "application/x-ole-storage":
		return "", false
	}
	return policy.NormalizeMIME(detected.String()), true
}

// TooLargeMessage — сообщение о превышении лимита размера.
func TooLargeMessage(category string, maxSize int64) string {
	return fmt.Sprintf("Размер файла превышает максимум %s для категории %s", FormatMB(maxSize), category)
}

// FormatMB форматирует размер в мегабайтах: «2 МБ», «1.5 МБ».
func FormatMB(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%d МБ", n/mb)
	}
	return fmt.Sprintf("%.1f МБ", float64(n)/mb)
}
