/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
)

//go:embed words/*.txt
var wordsFS embed.FS

// LoadWords reads a word list, one entry per line. Blank lines and lines
// starting with # are skipped and duplicates are dropped. An empty path
// selects the embedded English list.
func LoadWords(path string) ([]string, error) {
	var (
		data []byte
		err  error
	)

	if path == "" {
		data, err = wordsFS.ReadFile("words/en.txt")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}

	words := parseWords(data)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoWords, path)
	}

	return words, nil
}

func parseWords(data []byte) []string {
	seen := make(map[string]bool)

	var words []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w == "" || strings.HasPrefix(w, "#") || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}

	return words
}
