package responselog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/models"

	"github.com/rs/zerolog/log"
)

// markFile remembers the highest number ever written, so deleting the newest
// log does not make its number available again.
const markFile = ".last_response"

var logName = regexp.MustCompile(`^response_(\d+)\.json$`)

// Logger writes each answered question to its own response_<N>.json file.
type Logger struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func New(dir string) *Logger {
	return &Logger{dir: dir, now: time.Now}
}

// Log writes result as pretty printed JSON and returns the file path. N is one
// more than the highest number seen so far; existing files are never
// overwritten.
func (l *Logger) Log(result *models.QueryResult) (string, error) {
	if result == nil {
		return "", errors.New("nil query result")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create responses dir: %w", err)
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(models.ResponseLogRecord{
		Version:   models.ResponseLogVersion,
		ID:        id,
		CreatedAt: l.now().UTC(),
		Result:    *result,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal response: %w", err)
	}

	n, err := l.next()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(l.dir, fmt.Sprintf("response_%d.json", n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			n++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		l.mark(n)
		log.Debug().Str("path", path).Msg("Saved response")
		return path, nil
	}
}

// next returns one more than the larger of the highest existing file number
// and the stored high-water mark.
func (l *Logger) next() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list responses dir: %w", err)
	}
	highest := 0
	for _, e := range entries {
		m := logName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	if data, err := os.ReadFile(filepath.Join(l.dir, markFile)); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			highest = max(highest, n)
		}
	}
	return highest + 1, nil
}

func (l *Logger) mark(n int) {
	path := filepath.Join(l.dir, markFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(n)+"\n"), 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to update response counter")
	}
}
