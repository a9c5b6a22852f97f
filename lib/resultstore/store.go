// Package resultstore lays out the results root: one directory per index,
// grouped under its protocol when there is one.
package resultstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"triagem/lib/cadastre"
	"triagem/lib/retry"
)

type Store struct {
	root string
}

func New(root string) (Store, error) {
	if strings.TrimSpace(root) == "" {
		return Store{}, fmt.Errorf("results root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Store{}, err
	}
	return Store{root: abs}, nil
}

func (s Store) Root() string {
	return s.root
}

// Prepare returns the directory of an index, creating it when needed.
// Existing content is left alone so a rerun adds to what is there.
func (s Store) Prepare(protocol cadastre.Protocol, index cadastre.Index) (string, error) {
	protocol = cadastre.NormalizeProtocol(string(protocol))
	index = cadastre.NormalizeIndex(string(index))
	if index == "" {
		return "", fmt.Errorf("empty index")
	}

	dir := s.root
	if protocol != "" {
		dir = filepath.Join(dir, string(protocol))
	}
	dir = filepath.Join(dir, string(index))

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("prepare %s: %w", dir, err)
	}
	return dir, nil
}

// ReportName is the file name of the report of an index.
func ReportName(index cadastre.Index) string {
	return fmt.Sprintf("1. Relatório de Triagem - %s.pdf", index)
}

func ReportPath(dir string, index cadastre.Index) string {
	return filepath.Join(dir, ReportName(index))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeName replaces every character outside of [A-Za-z0-9_.-] with an
// underscore, one per character.
func SanitizeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

func isReport(name string) bool {
	return strings.HasPrefix(name, "1. Relatório de Triagem - ") && strings.HasSuffix(name, ".pdf")
}

// freeName finds a name not taken yet, "a.pdf" then "a_1.pdf", "a_2.pdf".
func freeName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}

// Collect gives every file of an index directory a safe name and
// classifies it. The report, unfinished downloads and directories are left
// out. Attachments come back sorted by name.
func (s Store) Collect(dir string) ([]cadastre.Attachment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	taken := map[string]bool{}
	for _, e := range entries {
		taken[e.Name()] = true
	}

	var out []cadastre.Attachment
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || isReport(name) || strings.HasSuffix(name, retry.InProgressSuffix) {
			continue
		}

		safe := SanitizeName(name)
		if safe != name {
			delete(taken, name)
			safe = freeName(safe, taken)
			err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, safe))
			if err != nil {
				slog.Warn("failed to rename attachment", "dir", dir, "name", name, "err", err)
				taken[name] = true
				continue
			}
			taken[safe] = true
			name = safe
		}

		out = append(out, cadastre.Attachment{
			Name:  name,
			Path:  filepath.Join(dir, name),
			Class: cadastre.Classify(name),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}
