package services

import (
  "bytes"
  "fmt"
  "io"
  "path/filepath"
  "regexp"
  "strings"
  "unicode/utf8"

  pdf "github.com/ledongthuc/pdf"
)

// ExtractText turns stored asset bytes into the plain text the chunking
// pipeline consumes. The real format is sniffed from the bytes first; the
// declared content type and the file extension only break ties, because
// uploads routinely arrive mislabeled. Supported: PDF, HTML, and UTF-8 text.
func ExtractText(name string, declaredType string, data []byte) (string, error) {
  if len(data) == 0 {
    return "", fmt.Errorf("file %s is empty", name)
  }
  declared := strings.ToLower(strings.TrimSpace(declaredType))
  ext := strings.ToLower(filepath.Ext(name))

  if hasPDFHeader(data) {
    return pdfText(data)
  }
  if looksLikeHTML(data) || declared == "text/html" || ext == ".html" || ext == ".htm" {
    return stripHTML(string(data)), nil
  }
  if declared == "application/pdf" || ext == ".pdf" {
    return "", fmt.Errorf("file %s claims to be PDF but has no %%PDF header", name)
  }
  if !utf8.Valid(data) {
    return "", fmt.Errorf("file %s is not valid UTF-8 text", name)
  }
  // NUL bytes are valid UTF-8, so a separate binary sniff is still needed.
  if !mostlyPrintable(data) && !strings.HasPrefix(declared, "text/") {
    return "", fmt.Errorf("file %s looks like binary data (declared %q)", name, declaredType)
  }
  // Plain text passes through untouched: markdown structure and paragraph
  // breaks are meaningful to the chunker.
  return string(data), nil
}

func hasPDFHeader(b []byte) bool {
  return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func looksLikeHTML(b []byte) bool {
  head := strings.ToLower(string(b[:min(len(b), 2048)]))
  trimmed := strings.TrimSpace(head)
  if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") {
    return true
  }
  return strings.Contains(head, "<html") && strings.Contains(head, "</html>")
}

// mostlyPrintable reports whether a byte sample reads as text: no NULs and
// at least nine in ten bytes printable or whitespace.
func mostlyPrintable(b []byte) bool {
  sample := b[:min(len(b), 4096)]
  good := 0
  for _, c := range sample {
    if c == 0x00 {
      return false
    }
    if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
      good++
    }
  }
  return float64(good)/float64(len(sample)) > 0.9
}

func pdfText(data []byte) (string, error) {
  r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
  if err != nil {
    return "", fmt.Errorf("pdf reader: %w", err)
  }
  plain, err := r.GetPlainText()
  if err != nil {
    return "", fmt.Errorf("pdf plaintext: %w", err)
  }
  b, err := io.ReadAll(plain)
  if err != nil {
    return "", fmt.Errorf("pdf read: %w", err)
  }
  // PDF extraction fragments runs of text, so the layout whitespace it
  // produces carries no meaning worth preserving.
  return collapseWhitespace(string(b)), nil
}

var htmlTagRe = regexp.MustCompile(`(?s)<[^>]*>`)

func stripHTML(s string) string {
  s = htmlTagRe.ReplaceAllString(s, " ")
  replacer := strings.NewReplacer(
    "&nbsp;", " ",
    "&amp;", "&",
    "&lt;", "<",
    "&gt;", ">",
    "&quot;", `"`,
  )
  return collapseWhitespace(replacer.Replace(s))
}

func collapseWhitespace(s string) string {
  s = strings.ReplaceAll(s, "\u00a0", " ")
  return strings.Join(strings.Fields(s), " ")
}
