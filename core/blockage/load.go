package blockage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var routePattern = regexp.MustCompile(`(\d+)\s*\((.*?)\)`)

// ParseCell decodes one spreadsheet cell. Each line is a route written as
// "<n> (<full>) <m> (<partial>)" where the lists are comma separated platform
// numbers. "--NA--" and other NA markers without parentheses mean no routes.
func ParseCell(cell string) []Route {
	s := strings.TrimSpace(strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(cell))
	compact := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if s == "" || compact == "--NA--" || (strings.Contains(compact, "NA") && !strings.Contains(s, "(")) {
		return nil
	}
	var routes []Route
	for _, part := range strings.Split(s, "\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var r Route
		matches := routePattern.FindAllStringSubmatch(part, -1)
		if len(matches) >= 1 {
			r.Full = platformList(matches[0][2])
		}
		if len(matches) >= 2 {
			r.Partial = platformList(matches[1][2])
		}
		routes = append(routes, r)
	}
	return routes
}

func platformList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, "P"+n)
		}
	}
	return out
}

// ParseCSV reads a matrix whose header row names the groups and whose first
// column holds the incoming line.
func ParseCSV(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	m := New()
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		line := strings.TrimSpace(row[0])
		if line == "" {
			continue
		}
		m.AddLine(line)
		cols := len(row)
		if len(header) < cols {
			cols = len(header)
		}
		for i := 1; i < cols; i++ {
			if strings.TrimSpace(row[i]) == "" {
				continue
			}
			group := header[i]
			if group == "" {
				group = fmt.Sprintf("Col%d", i)
			}
			m.Set(line, group, ParseCell(row[i]))
		}
	}
	return m, nil
}

// document is the YAML/JSON form: line -> group -> routes.
type document map[string]map[string][]Route

func fromDocument(doc document) *Matrix {
	lines := make([]string, 0, len(doc))
	for l := range doc {
		lines = append(lines, l)
	}
	sort.Strings(lines)
	m := New()
	for _, l := range lines {
		m.AddLine(l)
		for g, routes := range doc[l] {
			m.Set(l, g, routes)
		}
	}
	return m
}

// Load reads a matrix from a .csv, .yaml/.yml or .json file.
func Load(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseCSV(f)
	case ".yaml", ".yml":
		var doc document
		if err := yaml.NewDecoder(f).Decode(&doc); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode matrix: %w", err)
		}
		return fromDocument(doc), nil
	case ".json":
		var doc document
		if err := json.NewDecoder(f).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode matrix: %w", err)
		}
		return fromDocument(doc), nil
	default:
		return nil, fmt.Errorf("unsupported matrix format: %s", filepath.Ext(path))
	}
}
