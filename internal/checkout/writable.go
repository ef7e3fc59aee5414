package checkout

import (
	"context"
	"fmt"
	"os"
	"time"
)

// WritableBackend clears the read-only bit on files that are not under a
// lock-based VCS. It never creates files.
type WritableBackend struct{}

// NewWritableBackend creates a WritableBackend.
func NewWritableBackend() *WritableBackend {
	return &WritableBackend{}
}

// Name implements Backend.
func (*WritableBackend) Name() string {
	return "writable"
}

// OpenForEdit implements Backend.
func (*WritableBackend) OpenForEdit(ctx context.Context, path string) (res Result) {
	res = Result{Path: path, Started: time.Now()}
	defer func() { res.Duration = time.Since(res.Started) }()

	if err := ctx.Err(); err != nil {
		res.Status = Failed
		res.Reason = err.Error()
		return res
	}

	info, err := os.Stat(path)
	if err != nil {
		res.Status = Failed
		res.Reason = err.Error()
		return res
	}
	if info.IsDir() {
		res.Status = Failed
		res.Reason = "is a directory"
		return res
	}

	if IsWritable(path) {
		res.Status = AlreadyEditable
		return res
	}

	if err := os.Chmod(path, info.Mode().Perm()|0200); err != nil {
		res.Status = Failed
		res.Reason = fmt.Sprintf("chmod: %v", err)
		return res
	}
	res.Status = Succeeded
	return res
}
