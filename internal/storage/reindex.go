package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"signserver/internal/labels"
	"signserver/internal/model"
	"signserver/internal/repository"
)

// ReindexResult summarizes a Reindex run.
type ReindexResult struct {
	Scanned  int
	Inserted int
	Existing int
	Skipped  []string
}

// ListSnapshots returns the .jpg files in dir in name order.
func ListSnapshots(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Reindex rebuilds metadata rows for snapshot files that have none.
// Detections recovered from filenames carry no box and zero confidence.
// progress, if non-nil, is called once per file.
func Reindex(ctx context.Context, files []string, repo repository.SnapshotRepository, names labels.Map, progress func()) (ReindexResult, error) {
	var res ReindexResult
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if progress != nil {
			progress()
		}
		res.Scanned++

		filename := filepath.Base(path)
		ts, source, classNames, err := ParseFilename(filename)
		if err != nil {
			res.Skipped = append(res.Skipped, filename)
			continue
		}

		exists, err := repo.ExistsByFilename(ctx, filename)
		if err != nil {
			return res, err
		}
		if exists {
			res.Existing++
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			return res, fmt.Errorf("stat %s: %w", path, err)
		}

		id, err := repo.Insert(ctx, &model.Snapshot{
			Filename:  filename,
			Source:    source,
			Timestamp: ts,
			FilePath:  path,
			FileSize:  info.Size(),
		})
		if err != nil {
			return res, err
		}

		rows := make([]model.Detection, 0, len(classNames))
		for _, name := range classNames {
			classID, ok := names.ID(name)
			if !ok {
				classID = -1
			}
			rows = append(rows, model.Detection{SnapshotID: id, ClassID: classID, ClassName: name})
		}
		if err := repo.InsertDetections(ctx, rows); err != nil {
			return res, err
		}
		res.Inserted++
	}
	return res, nil
}
