// Package runs manages run directories and the artifacts written into them.
package runs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run is one pipeline execution and the directory holding its evidence
type Run struct {
	ID  string
	Dir string
}

// NewRun creates <base>/<prefix>_<UTC yyyymmdd_hhmmss>_<8 hex>
func NewRun(base, prefix string) (*Run, error) {
	return newRunAt(base, prefix, time.Now().UTC())
}

func newRunAt(base, prefix string, now time.Time) (*Run, error) {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	id := fmt.Sprintf("%s_%s_%s", prefix, now.Format("20060102_150405"), suffix)
	return OpenRun(base, id)
}

// OpenRun uses a caller-chosen run ID, creating the directory if needed
func OpenRun(base, id string) (*Run, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid run id %q", id)
	}
	dir := filepath.Join(base, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &Run{ID: id, Dir: dir}, nil
}

// Path joins name onto the run directory
func (r *Run) Path(elem ...string) string {
	return filepath.Join(append([]string{r.Dir}, elem...)...)
}

// SubDir creates and returns a directory inside the run
func (r *Run) SubDir(elem ...string) (string, error) {
	dir := r.Path(elem...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}
