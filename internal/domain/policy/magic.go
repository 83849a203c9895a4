package policy

import (
	"bytes"
	"strings"
)

var (
	sigPDF = []byte{0x25, 0x50, 0x44, 0x46}                         // %PDF
	sigZIP = []byte{0x50, 0x4B, 0x03, 0x04}                         // PK\x03\x04
	sigOLE = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1} // MS Compound File
	sigJPG = []byte{0xFF, 0xD8, 0xFF}
	sigPNG = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	sigGIF = []byte{0x47, 0x49, 0x46, 0x38}       // GIF8
	sigRIF = []byte{0x52, 0x49, 0x46, 0x46}       // RIFF (webp)
	sigRTF = []byte{0x7B, 0x5C, 0x72, 0x74, 0x66} // {\rtf
)

// magicNumbers — сигнатуры по расширению.
//
// Сигнатура ZIP означает только «это ZIP-контейнер»: docx, xlsx, pptx
// и форматы OpenDocument неотличимы по первым байтам. Проверка конкретного
// подтипа Office потребовала бы разбора манифеста внутри архива.
// Расширения без записи (txt, csv) проверку сигнатуры не проходят вовсе.
var magicNumbers = map[string][]byte{
	"pdf":  sigPDF,
	"doc":  sigOLE,
	"xls":  sigOLE,
	"ppt":  sigOLE,
	"docx": sigZIP,
	"xlsx": sigZIP,
	"pptx": sigZIP,
	"odt":  sigZIP,
	"ods":  sigZIP,
	"odp":  sigZIP,
	"jpg":  sigJPG,
	"jpeg": sigJPG,
	"png":  sigPNG,
	"gif":  sigGIF,
	"webp": sigRIF,
	"rtf":  sigRTF,
}

// Signature возвращает копию сигнатуры для расширения.
func Signature(ext string) ([]byte, bool) {
	sig, ok := magicNumbers[strings.ToLower(ext)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(sig))
	copy(out, sig)
	return out, true
}

// MatchesSignature проверяет, что head начинается с сигнатуры расширения.
// Для расширений без сигнатуры возвращает true.
func MatchesSignature(ext string, head []byte) bool {
	sig, ok := magicNumbers[strings.ToLower(ext)]
	if !ok {
		return true
	}
	if len(head) < len(sig) {
		return false
	}
	return bytes.Equal(head[:len(sig)], sig)
}

// IsOfficeXML — docx/xlsx/pptx (Office Open XML, ZIP-контейнер).
func IsOfficeXML(ext string) bool {
	switch strings.ToLower(ext) {
	case "docx", "xlsx", "pptx":
		return true
	}
	return false
}
