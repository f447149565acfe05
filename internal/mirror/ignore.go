package mirror

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/mirrorkit/mirrorkit/internal/utils"
)

// IgnoreFileName is an optional gitignore-style file at the source root.
const IgnoreFileName = ".mirrorkitignore"

var defaultIgnoreLines = []string{
	// our own artifacts
	MetadataFileName,
	QuarantineDirName + "/",
	DataDirName + "/",
	IgnoreFileName,
	// editor/temp droppings
	"*.tmp",
	"*.swp",
	"*~",
	".mirrorkit-*.tmp",
	// OS noise
	".DS_Store",
	"Thumbs.db",
	"Icon",
}

// IgnoreList filters paths out of both the watcher dispatch and the
// reconcile walk.
type IgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir}
}

// Load compiles the built-in rules plus any .mirrorkitignore at the source
// root. Safe to call again to pick up rule changes.
func (l *IgnoreList) Load() {
	lines := make([]string, 0, len(defaultIgnoreLines))
	lines = append(lines, defaultIgnoreLines...)

	ignorePath := filepath.Join(l.baseDir, IgnoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				lines = append(lines, line)
				rules++
			}
			slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether the relative path matches any ignore rule.
func (l *IgnoreList) ShouldIgnore(rel string) bool {
	if l.ignore == nil {
		l.Load()
	}
	return l.ignore.MatchesPath(rel)
}
