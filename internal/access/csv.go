package access

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSV import of the e-mail allow-list.

// Definition of fields in a CSV member list
type CSVListDefinition struct {
	EmailField  string
	StatusField string // Optional

	ActiveStatus string

	Language string // Language code, e.g. "en", "ja"
}

// Known header names, per export language. A list without a known header is
// read as one address per line.
var CSVListDefinitions = []CSVListDefinition{
	{
		EmailField:   "EMAIL",
		StatusField:  "STATUS",
		ActiveStatus: "ACTIVE",
		Language:     "en",
	},
	{
		EmailField:   "E-MAIL",
		StatusField:  "STATUS",
		ActiveStatus: "ACTIVE",
		Language:     "en",
	},
	{
		EmailField:   "メールアドレス",
		StatusField:  "ステータス",
		ActiveStatus: "有効",
		Language:     "ja",
	},
}

// decodeBOM returns a reader yielding UTF-8. Spreadsheet exports are often
// UTF-16 with a byte order mark; a UTF-8 BOM is dropped.
func decodeBOM(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	bom, err := br.Peek(3)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read BOM: %w", err)
	}

	switch {
	case len(bom) >= 2 && (bom[0] == 0xFE && bom[1] == 0xFF || bom[0] == 0xFF && bom[1] == 0xFE):
		utf16bom := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
		return transform.NewReader(br, utf16bom), nil
	case len(bom) == 3 && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}):
		br.Discard(3)
	}
	return br, nil
}

// detectComma picks tab when the first line has tabs, comma otherwise.
func detectComma(firstLine string) rune {
	if strings.Count(firstLine, "\t") > 0 {
		return '\t'
	}
	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		return ';'
	}
	return ','
}

func matchDefinition(header []string) (def CSVListDefinition, idxEmail, idxStatus int, ok bool) {
	for _, def = range CSVListDefinitions {
		idxEmail, idxStatus = -1, -1
		for i, h := range header {
			switch strings.ToUpper(strings.TrimSpace(h)) {
			case strings.ToUpper(def.EmailField):
				idxEmail = i
			case strings.ToUpper(def.StatusField):
				idxStatus = i
			}
		}
		if idxEmail != -1 {
			return def, idxEmail, idxStatus, true
		}
	}
	return CSVListDefinition{}, -1, -1, false
}

// ReadEmailList returns the normalised, valid and active addresses of a
// member list. Duplicates are dropped; invalid addresses are logged and
// skipped.
func ReadEmailList(r io.Reader) ([]string, error) {
	decoded, err := decodeBOM(r)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to read list: %w", err)
	}
	text := string(data)
	firstLine, _, _ := strings.Cut(text, "\n")

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectComma(firstLine)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	def, idxEmail, idxStatus, hasHeader := matchDefinition(records[0])
	if hasHeader {
		records = records[1:]
		slog.Debug("Detected member list format", "language", def.Language, "email_column", idxEmail, "status_column", idxStatus)
	} else {
		idxEmail = 0
	}

	seen := make(map[string]bool)
	var emails []string
	for line, record := range records {
		if len(record) <= idxEmail {
			continue
		}
		if idxStatus != -1 && len(record) > idxStatus && !strings.EqualFold(strings.TrimSpace(record[idxStatus]), def.ActiveStatus) {
			continue
		}
		email := NormalizeEmail(record[idxEmail])
		if email == "" || seen[email] {
			continue
		}
		if err := ValidEmail(email); err != nil {
			slog.Warn("Skipping invalid address", "line", line+1, "value", record[idxEmail])
			continue
		}
		seen[email] = true
		emails = append(emails, email)
	}
	return emails, nil
}

// ReadEmailListFile opens csvFile and reads it with ReadEmailList.
func ReadEmailListFile(csvFile string) ([]string, error) {
	f, err := os.Open(csvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()
	return ReadEmailList(f)
}
