package policy

import "strings"

// Запрещённые расширения по категориям. Проверка регистронезависимая
// и выполняется до любых других проверок.
var prohibited = map[string][]string{
	"ejecutables": {
		"exe", "com", "bat", "cmd", "msi", "msp", "scr", "pif", "dll",
		"cpl", "app", "deb", "rpm", "dmg", "pkg", "apk", "jar", "bin", "run",
	},
	"scripts": {
		"js", "jse", "vbs", "vbe", "wsf", "wsh", "ps1", "psm1", "sh", "bash",
		"zsh", "csh", "py", "pyc", "pl", "rb", "lua", "hta",
	},
	"sistema": {
		"sys", "drv", "ini", "inf", "reg", "lnk", "url", "scf", "msc",
	},
	"servidor": {
		"php", "php3", "php4", "php5", "php7", "phtml", "phar", "asp", "aspx",
		"ascx", "ashx", "jsp", "jspx", "cgi", "cfm", "shtml", "htaccess",
	},
}

// ProhibitedCategory возвращает категорию запрета расширения.
// ok == false, если расширение не запрещено.
func ProhibitedCategory(ext string) (string, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for category, exts := range prohibited {
		for _, e := range exts {
			if e == ext {
				return category, true
			}
		}
	}
	return "", false
}

// IsProhibited проверяет, запрещено ли расширение.
func IsProhibited(ext string) bool {
	_, ok := ProhibitedCategory(ext)
	return ok
}

// ProhibitedExtensions возвращает все запрещённые расширения (для тестов и /info).
func ProhibitedExtensions() []string {
	var out []string
	for _, exts := range prohibited {
		out = append(out, exts...)
	}
	return out
}
