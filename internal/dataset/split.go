// Package dataset prepares training data: it captures landmark frames from
// the camera and splits class-per-folder datasets into train/test/val.
package dataset

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
)

// Split names, in copy order.
const (
	Train = "train"
	Test  = "test"
	Val   = "val"
)

type Ratios struct {
	Train float64
	Test  float64
}

// DefaultRatios gives 70% train, 20% test and the remaining 10% to val.
func DefaultRatios() Ratios {
	return Ratios{Train: 0.7, Test: 0.2}
}

func (r Ratios) Validate() error {
	if r.Train < 0 || r.Test < 0 || r.Train+r.Test > 1 {
		return fmt.Errorf("invalid split ratios train=%.2f test=%.2f", r.Train, r.Test)
	}
	return nil
}

// Counts returns how many of n files go to train, test and val. Val takes
// whatever the truncated train and test counts leave over.
func (r Ratios) Counts(n int) (train, test, val int) {
	train = int(float64(n) * r.Train)
	test = int(float64(n) * r.Test)
	val = n - train - test
	return train, test, val
}

type ClassSplit struct {
	Class string
	Train int
	Test  int
	Val   int
}

type Plan struct {
	Classes []ClassSplit
	Files   int
}

// Split copies every file of every class folder under src into
// dest/{train,test,val}/<class>/. Files are shuffled per class with rng
// before being cut. progress, if non-nil, is called after each copy.
func Split(src, dest string, ratios Ratios, rng *rand.Rand, progress func()) (*Plan, error) {
	if err := ratios.Validate(); err != nil {
		return nil, err
	}
	classes, err := listClasses(src)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for _, class := range classes {
		files, err := listFiles(filepath.Join(src, class))
		if err != nil {
			return nil, err
		}
		rng.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })

		nTrain, nTest, nVal := ratios.Counts(len(files))
		parts := []struct {
			name  string
			files []string
		}{
			{Train, files[:nTrain]},
			{Test, files[nTrain : nTrain+nTest]},
			{Val, files[nTrain+nTest:]},
		}
		for _, part := range parts {
			dir := filepath.Join(dest, part.name, class)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
			for _, name := range part.files {
				if err := copyFile(filepath.Join(src, class, name), filepath.Join(dir, name)); err != nil {
					return nil, err
				}
				if progress != nil {
					progress()
				}
			}
		}

		plan.Classes = append(plan.Classes, ClassSplit{Class: class, Train: nTrain, Test: nTest, Val: nVal})
		plan.Files += len(files)
	}
	return plan, nil
}

// CountFiles returns the number of files Split would copy from src.
func CountFiles(src string) (int, error) {
	classes, err := listClasses(src)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, class := range classes {
		files, err := listFiles(filepath.Join(src, class))
		if err != nil {
			return 0, err
		}
		total += len(files)
	}
	return total, nil
}

func listClasses(src string) ([]string, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", src, err)
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)
	return classes, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read class folder %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
