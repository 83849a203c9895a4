package validation

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
)

// scanHeadSize — сколько первых байт анализирует эвристический сканер.
const scanHeadSize = 1024

// pdfChunkSize — размер блока потокового поиска маркеров в PDF.
const pdfChunkSize = 32 * 1024

type suspiciousPattern struct {
	label string
	re    *regexp.Regexp
}

var suspiciousPatterns = []suspiciousPattern{
	{"<script>", regexp.MustCompile(`(?i)<\s*script`)},
	{"javascript:", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"vbscript:", regexp.MustCompile(`(?i)vbscript\s*:`)},
	{"eval()", regexp.MustCompile(`(?i)\beval\s*\(`)},
	{"exec()", regexp.MustCompile(`(?i)\bexec\s*\(`)},
	{"document.cookie", regexp.MustCompile(`(?i)document\.cookie`)},
	{"обработчик событий", regexp.MustCompile(`(?i)\bon(load|error|click|mouseover)\s*=`)},
	{"base64_decode", regexp.MustCompile(`(?i)base64_decode\s*\(`)},
}

// pdfMarkers — активное содержимое PDF.
var pdfMarkers = [][]byte{
	[]byte("/JavaScript"),
	[]byte("/JS"),
	[]byte("/AcroForm"),
}

// ScanHead ищет подозрительные шаблоны в первых 1 КБ, интерпретируемых
// как ASCII (прочие байты заменяются точкой). Возвращает предупреждения.
func ScanHead(head []byte) []string {
	if len(head) > scanHeadSize {
		head = head[:scanHeadSize]
	}
	ascii := make([]byte, len(head))
	for i, b := range head {
		if b >= 0x20 && b < 0x7f || b == '\n' || b == '\r' || b == '\t' {
			ascii[i] = b
		} else {
			ascii[i] = '.'
		}
	}

	var warnings []string
	for _, p := range suspiciousPatterns {
		if p.re.Match(ascii) {
			warnings = append(warnings, fmt.Sprintf("Подозрительное содержимое: %s", p.label))
		}
	}
	return warnings
}

// ScanPDF потоково ищет маркеры активного содержимого во всём файле.
// Память фиксирована: блок + хвост длиной самого длинного маркера.
func ScanPDF(r io.Reader) ([]string, error) {
	maxLen := 0
	for _, m := range pdfMarkers {
		if len(m) > maxLen {
			maxLen = len(m)
		}
	}

	found := make(map[string]bool, len(pdfMarkers))
	buf := make([]byte, 0, pdfChunkSize+maxLen)
	chunk := make([]byte, pdfChunkSize)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for _, m := range pdfMarkers {
				if !found[string(m)] && bytes.Contains(buf, m) {
					found[string(m)] = true
				}
			}
			if len(buf) > maxLen {
				buf = append(buf[:0], buf[len(buf)-maxLen+1:]...)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения PDF: %w", err)
		}
	}

	var warnings []string
	for _, m := range pdfMarkers {
		if found[string(m)] {
			warnings = append(warnings, fmt.Sprintf("PDF содержит %s", m))
		}
	}
	return warnings, nil
}

// ScanOfficeXML — файлы Office Open XML обязаны быть ZIP-контейнером.
func ScanOfficeXML(head []byte) []string {
	if len(head) >= 2 && head[0] == 'P' && head[1] == 'K' {
		return nil
	}
	return []string{"Файл Office не начинается с сигнатуры ZIP (PK)"}
}
