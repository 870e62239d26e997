// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package docindex

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// Extractor turns one file into plain text.
type Extractor func(ctx context.Context, path string) (string, error)

// extractors dispatches by lower-cased file extension.
var extractors = map[string]Extractor{
	".pdf":   extractPDF,
	".docx":  extractDocx,
	".xlsx":  extractXlsx,
	".pptx":  extractPptx,
	".epub":  extractEpub,
	".txt":   extractPlain,
	".md":    extractPlain,
	".mbox":  extractPlain,
	".html":  extractHTML,
	".htm":   extractHTML,
	".ipynb": extractNotebook,
	".csv":   extractCSV,
	".xml":   extractXML,
}

// SupportedExtensions lists the extensions the registry accepts, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads path through the extractor registered for its extension.
func Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extractor, ok := extractors[ext]
	if !ok {
		return "", fmt.Errorf("no extractor for %s files", ext)
	}
	return extractor(ctx, path)
}

func extractPlain(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func extractPDF(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat PDF: %w", err)
	}

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDocx(_ context.Context, path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse DOCX: %w", err)
	}
	defer doc.Close()

	// GetContent returns the raw document XML; strip the markup.
	return flattenXML(strings.NewReader(doc.Editable().GetContent()))
}

func extractXlsx(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse XLSX: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "Sheet %s:\n", sheet)
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					cells = append(cells, text)
				}
			}
			if len(cells) > 0 {
				sb.WriteString(strings.Join(cells, ", "))
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String(), nil
}

// extractPptx pulls the text runs out of every slide's XML.
func extractPptx(ctx context.Context, path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PPTX: %w", err)
	}
	defer archive.Close()

	var slides []string
	for _, file := range archive.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") || !strings.HasSuffix(file.Name, ".xml") {
			continue
		}
		slides = append(slides, file.Name)
	}
	sort.Strings(slides)

	var parts []string
	for _, name := range slides {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		text, err := readZipXMLText(archive, name, "t")
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// extractEpub concatenates the visible text of every XHTML chapter.
func extractEpub(ctx context.Context, path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open EPUB: %w", err)
	}
	defer archive.Close()

	var chapters []string
	for _, file := range archive.File {
		name := strings.ToLower(file.Name)
		if strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm") {
			chapters = append(chapters, file.Name)
		}
	}
	sort.Strings(chapters)

	var parts []string
	for _, name := range chapters {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		rc, err := archive.Open(name)
		if err != nil {
			return "", fmt.Errorf("failed to open EPUB entry %s: %w", name, err)
		}
		text, err := flattenXML(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
)

func extractHTML(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	text := scriptPattern.ReplaceAllString(string(data), " ")
	text = tagPattern.ReplaceAllString(text, " ")
	text = spacePattern.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n"), nil
}

type notebook struct {
	Cells []struct {
		CellType string          `json:"cell_type"`
		Source   json.RawMessage `json:"source"`
	} `json:"cells"`
}

func extractNotebook(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return "", fmt.Errorf("failed to parse notebook: %w", err)
	}

	var parts []string
	for _, cell := range nb.Cells {
		// source is either a string or an array of lines
		var joined string
		var lines []string
		if err := json.Unmarshal(cell.Source, &lines); err == nil {
			joined = strings.Join(lines, "")
		} else if err := json.Unmarshal(cell.Source, &joined); err != nil {
			continue
		}
		if strings.TrimSpace(joined) != "" {
			parts = append(parts, joined)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractCSV(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var sb strings.Builder
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse CSV: %w", err)
		}
		sb.WriteString(strings.Join(row, ", "))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func extractXML(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()
	return flattenXML(f)
}

// flattenXML concatenates all character data in an XML stream.
func flattenXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	var sb strings.Builder
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse XML: %w", err)
		}
		if data, ok := token.(xml.CharData); ok {
			if text := strings.TrimSpace(string(data)); text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String(), nil
}

// readZipXMLText collects the character data of every <element> in one
// archive entry.
func readZipXMLText(archive *zip.ReadCloser, name, element string) (string, error) {
	rc, err := archive.Open(name)
	if err != nil {
		return "", fmt.Errorf("failed to open archive entry %s: %w", name, err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var sb strings.Builder
	inElement := 0
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", name, err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == element {
				inElement++
			}
		case xml.EndElement:
			if t.Name.Local == element && inElement > 0 {
				inElement--
			}
		case xml.CharData:
			if inElement > 0 {
				sb.Write(t)
				sb.WriteByte(' ')
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
