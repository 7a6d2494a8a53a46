package logging

import (
	"os"
	"strings"
)

// Tail returns the last n lines of the file at path plus the total line
// count. Trailing whitespace is stripped per line, matching what the debug
// endpoint serves.
func Tail(path string, n int) ([]string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	raw := strings.Split(string(data), "\n")
	if len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	for i, line := range raw {
		raw[i] = strings.TrimRight(line, " \t\r")
	}

	total := len(raw)
	if n < 0 {
		n = 0
	}
	if n > total {
		n = total
	}
	return raw[total-n:], total, nil
}
