package policy

import (
	"fmt"
	"sort"
	"strings"

	apierrors "github.com/bigkaa/portfolio-uploads/internal/api/errors"
)

// Имена категорий загрузки. Совпадают с именами каталогов верхнего уровня.
const (
	CategoryDocuments  = "documentos"
	CategoryPortfolios = "portafolios"
	CategoryAvatars    = "avatares"
	CategoryExcel      = "excel"
)

// CategoryPolicy — политика категории загрузки: допустимые группы типов,
// необязательное сужение по расширениям, лимит размера и код отказа.
type CategoryPolicy struct {
	// Name — имя категории, оно же каталог назначения
	Name string
	// Groups — допустимые группы типов файлов
	Groups []TypeGroup
	// Extensions — если не пусто, допускаются только эти расширения
	Extensions []string
	// MaxSize — лимит размера файла категории в байтах
	MaxSize int64
	// RejectCode — код ошибки, когда тип файла не подходит категории
	RejectCode string
	// Sanitize — перекодировать изображения при сохранении
	Sanitize bool
}

// Allows проверяет, допускает ли категория расширение указанной группы.
func (p CategoryPolicy) Allows(group TypeGroup, ext string) bool {
	groupOK := false
	for _, g := range p.Groups {
		if g == group {
			groupOK = true
			break
		}
	}
	if !groupOK {
		return false
	}
	if len(p.Extensions) == 0 {
		return true
	}
	ext = strings.ToLower(ext)
	for _, e := range p.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// AllowedExtensions возвращает отсортированный список расширений категории.
func (p CategoryPolicy) AllowedExtensions() []string {
	if len(p.Extensions) > 0 {
		out := append([]string(nil), p.Extensions...)
		sort.Strings(out)
		return out
	}
	var out []string
	for _, ft := range fileTypes {
		if containsGroup(p.Groups, ft.Group) {
			out = append(out, ft.Extensions...)
		}
	}
	sort.Strings(out)
	return out
}

func containsGroup(groups []TypeGroup, g TypeGroup) bool {
	for _, x := range groups {
		if x == g {
			return true
		}
	}
	return false
}

// Limits — лимиты размеров категорий.
type Limits struct {
	Document  int64
	Portfolio int64
	Avatar    int64
	Excel     int64
	General   int64
}

// NewCategory — единая фабрика политик категорий.
func NewCategory(name string, maxSize int64, rejectCode string, groups []TypeGroup, exts ...string) CategoryPolicy {
	normalized := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			normalized = append(normalized, e)
		}
	}
	return CategoryPolicy{
		Name:       name,
		Groups:     groups,
		Extensions: normalized,
		MaxSize:    maxSize,
		RejectCode: rejectCode,
	}
}

// DefaultCategories строит четыре стандартные категории.
// allowedDocs — список расширений категории documentos (PU_ALLOWED_EXTENSIONS).
func DefaultCategories(limits Limits, allowedDocs []string, sanitizeImages bool) []CategoryPolicy {
	avatars := NewCategory(CategoryAvatars, limits.Avatar, apierrors.CodeInvalidAvatarType,
		[]TypeGroup{GroupImage}, "jpg", "jpeg", "png", "gif", "webp")
	avatars.Sanitize = sanitizeImages

	return []CategoryPolicy{
		NewCategory(CategoryDocuments, limits.Document, apierrors.CodeInvalidExtension,
			[]TypeGroup{GroupDocument, GroupSpreadsheet, GroupPresentation, GroupImage}, allowedDocs...),
		NewCategory(CategoryPortfolios, limits.Portfolio, apierrors.CodeInvalidPortfolioFile,
			[]TypeGroup{GroupDocument, GroupSpreadsheet, GroupPresentation, GroupImage}),
		avatars,
		NewCategory(CategoryExcel, limits.Excel, apierrors.CodeInvalidExcelType,
			[]TypeGroup{GroupSpreadsheet}, "xls", "xlsx", "csv"),
	}
}

// Registry — набор политик категорий и глобальный лимит размера.
// Неизменяем после создания.
type Registry struct {
	categories    map[string]CategoryPolicy
	globalMaxSize int64
}

// NewRegistry создаёт реестр категорий. Возвращает ошибку при дублях
// имён или неизвестных расширениях в политиках.
func NewRegistry(globalMaxSize int64, policies ...CategoryPolicy) (*Registry, error) {
	r := &Registry{
		categories:    make(map[string]CategoryPolicy, len(policies)),
		globalMaxSize: globalMaxSize,
	}
	for _, p := range policies {
		if p.Name == "" {
			return nil, fmt.Errorf("категория без имени")
		}
		if _, dup := r.categories[p.Name]; dup {
			return nil, fmt.Errorf("категория %q задана дважды", p.Name)
		}
		for _, ext := range p.Extensions {
			if IsProhibited(ext) {
				return nil, fmt.Errorf("категория %q: расширение %q запрещено", p.Name, ext)
			}
			group, ok := GroupForExtension(ext)
			if !ok {
				return nil, fmt.Errorf("категория %q: неизвестное расширение %q", p.Name, ext)
			}
			if !containsGroup(p.Groups, group) {
				return nil, fmt.Errorf("категория %q: расширение %q вне допустимых групп", p.Name, ext)
			}
		}
		r.categories[p.Name] = p
	}
	return r, nil
}

// Get возвращает политику категории.
func (r *Registry) Get(name string) (CategoryPolicy, bool) {
	p, ok := r.categories[name]
	return p, ok
}

// Names возвращает отсортированные имена категорий.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.categories))
	for name := range r.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GlobalMaxSize — общий верхний лимит размера файла.
func (r *Registry) GlobalMaxSize() int64 {
	return r.globalMaxSize
}

// MaxSizeFor — эффективный лимит категории: min(лимит категории, общий лимит).
func (r *Registry) MaxSizeFor(p CategoryPolicy) int64 {
	if p.MaxSize <= 0 || (r.globalMaxSize > 0 && r.globalMaxSize < p.MaxSize) {
		return r.globalMaxSize
	}
	return p.MaxSize
}
