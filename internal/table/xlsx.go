package table

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

type xlsxReader struct{}

func (xlsxReader) CanRead(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".xlsx")
}

func (xlsxReader) Read(path string) (*Frame, error) {
	return ReadXLSX(path, "", 1)
}

// ReadXLSX reads one worksheet of a .xlsx workbook into a frame; the first row is the header.
// If sheetName is empty the sheet is chosen by 1-based sheetIndex.
func ReadXLSX(path, sheetName string, sheetIndex int) (*Frame, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer zr.Close()

	sheets := parseWorkbook(readZipFile(&zr.Reader, "xl/workbook.xml"))
	rels := parseRelationships(readZipFile(&zr.Reader, "xl/_rels/workbook.xml.rels"))
	target := ""
	if sheetName != "" {
		for _, s := range sheets {
			if strings.EqualFold(s.Name, sheetName) {
				if rel, ok := rels[s.RID]; ok {
					target = normalizeRelPath(rel)
				}
				break
			}
		}
		if target == "" {
			names := make([]string, len(sheets))
			for i, s := range sheets {
				names[i] = s.Name
			}
			return nil, fmt.Errorf("sheet %q not found in %s (available: %s)",
				sheetName, filepath.Base(path), strings.Join(names, ", "))
		}
	}
	if target == "" {
		idx := sheetIndex
		if idx <= 0 {
			idx = 1
		}
		for _, s := range sheets {
			if s.SheetID == idx {
				if rel, ok := rels[s.RID]; ok {
					target = normalizeRelPath(rel)
				}
				break
			}
		}
		if target == "" {
			target = fmt.Sprintf("xl/worksheets/sheet%d.xml", idx)
		}
	}
	sheetXML := readZipFile(&zr.Reader, target)
	if sheetXML == nil {
		return nil, fmt.Errorf("worksheet %s missing from %s", target, filepath.Base(path))
	}
	rr := newSheetRowReader(sheetXML, parseSharedStrings(readZipFile(&zr.Reader, "xl/sharedStrings.xml")))
	header, ok := rr.Next()
	if !ok || len(header) == 0 {
		return New(NameOf(path)), nil
	}
	out := New(NameOf(path), header...)
	for {
		row, ok := rr.Next()
		if !ok {
			break
		}
		if len(row) > len(out.columns) {
			row = row[:len(out.columns)]
		}
		if blankRow(row) {
			continue
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type wbSheet struct {
	Name    string
	SheetID int
	RID     string
}

// parseWorkbook extracts sheet entries with names and relationship ids.
func parseWorkbook(data []byte) []wbSheet {
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var sheets []wbSheet
	for {
		tok, err := dec.Token()
		if err != nil {
			return sheets
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "sheet" {
			var s wbSheet
			for _, a := range se.Attr {
				switch a.Name.Local {
				case "name":
					s.Name = a.Value
				case "sheetId":
					s.SheetID = atoiSafe(a.Value)
				case "id":
					s.RID = a.Value
				}
			}
			sheets = append(sheets, s)
		}
	}
}

// parseRelationships returns map[r:id]Target.
func parseRelationships(data []byte) map[string]string {
	out := map[string]string{}
	if len(data) == 0 {
		return out
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "Relationship" {
			var id, target string
			for _, a := range se.Attr {
				switch a.Name.Local {
				case "Id":
					id = a.Value
				case "Target":
					target = a.Value
				}
			}
			if id != "" && target != "" {
				out[id] = target
			}
		}
	}
}

func readZipFile(zr *zip.Reader, name string) []byte {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		return b
	}
	return nil
}

func parseSharedStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []string
	var buf strings.Builder
	var inT bool
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inT = false
			case "si":
				out = append(out, buf.String())
				buf.Reset()
			}
		case xml.CharData:
			if inT {
				buf.Write(se)
			}
		}
	}
}

type sheetRowReader struct {
	dec    *xml.Decoder
	shared []string
	inRow  bool
	curRow []string
}

func newSheetRowReader(data []byte, shared []string) *sheetRowReader {
	return &sheetRowReader{dec: xml.NewDecoder(bytes.NewReader(data)), shared: shared}
}

// Next returns the next <row> as a dense slice indexed by column letter.
func (r *sheetRowReader) Next() ([]string, bool) {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, false
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "row" {
				r.inRow = true
				r.curRow = nil
			}
			if r.inRow && se.Name.Local == "c" {
				var ref, typ string
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					}
				}
				col := len(r.curRow)
				if ref != "" {
					col = colIndexFromRef(ref)
				}
				val := r.readCellValue(typ)
				if len(r.curRow) <= col {
					tmp := make([]string, col+1)
					copy(tmp, r.curRow)
					r.curRow = tmp
				}
				r.curRow[col] = val
			}
		case xml.EndElement:
			if se.Name.Local == "row" {
				r.inRow = false
				return r.curRow, true
			}
		}
	}
}

// readCellValue consumes tokens up to </c>, capturing <v> or inline <is><t>.
func (r *sheetRowReader) readCellValue(typ string) string {
	var val string
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return val
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "v" || se.Name.Local == "t" {
				var sb strings.Builder
				for {
					tk, er := r.dec.Token()
					if er != nil {
						break
					}
					if ed, ok := tk.(xml.EndElement); ok && (ed.Name.Local == "v" || ed.Name.Local == "t") {
						break
					}
					if ch, ok := tk.(xml.CharData); ok {
						sb.Write(ch)
					}
				}
				val = sb.String()
			}
		case xml.EndElement:
			if se.Name.Local == "c" {
				if typ == "s" {
					idx := atoiSafe(val)
					if idx >= 0 && idx < len(r.shared) {
						return r.shared[idx]
					}
					return ""
				}
				return val
			}
		}
	}
}

// colIndexFromRef maps refs like "C12" to a 0-based column index.
func colIndexFromRef(ref string) int {
	idx := 0
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'A' && c <= 'Z':
			idx = idx*26 + int(c-'A'+1)
		case c >= 'a' && c <= 'z':
			idx = idx*26 + int(c-'a'+1)
		default:
			return idx - 1
		}
	}
	return idx - 1
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// normalizeRelPath converts relationship targets to zip entry paths.
func normalizeRelPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return "xl/" + rel
}
