package worker

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/taskhubdev/taskhub/internal/jobs"
)

// exportTodosCSV renders a user's todo list to a CSV file under the
// configured exports directory.
func (w *Worker) exportTodosCSV(ctx context.Context, p jobs.ExportTodosCSVPayload) error {
	if w.todos == nil {
		return fmt.Errorf("todos repository not wired")
	}

	list, err := w.todos.ListByOwner(ctx, p.UserID)

	if err != nil {
		return fmt.Errorf("list todos: %w", err)
	}

	dir := w.cfg.ExportsDir

	if dir == "" {
		dir = os.TempDir()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create exports dir: %w", err)
	}

	name := fmt.Sprintf("todos-%s-%d.csv", p.UserID, time.Now().UTC().Unix())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)

	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	cw := csv.NewWriter(f)

	_ = cw.Write([]string{"id", "text", "completed", "createdAt"})

	for _, t := range list {
		_ = cw.Write([]string{
			t.ID,
			t.Text,
			strconv.FormatBool(t.Completed),
			t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write export: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}

	slog.Default().InfoContext(ctx, "todos export written",
		"user_id", p.UserID,
		"path", path,
		"rows", len(list),
	)

	return nil
}
