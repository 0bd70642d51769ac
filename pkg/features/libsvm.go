// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package features

import (
	"bufio"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Shard file patterns, relative to the input directory.
const (
	TrainPattern = "train*set"
	ValidPattern = "valid*set"
	TestsPattern = "tests*set"
)

// ParseLine parses one line in the format "label idx:val idx:val ...", with exactly numFields
// "idx:val" pairs.
//
// The returned idx and val are appended to the given buffers (which may be nil).
func ParseLine(line string, numFields int, idxBuf []int32, valBuf []float32) (
	label float32, idx []int32, val []float32, err error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		err = errors.New("empty line")
		return
	}
	label64, err := strconv.ParseFloat(parts[0], 32)
	if err != nil {
		err = errors.Wrapf(err, "invalid label %q", parts[0])
		return
	}
	label = float32(label64)
	if len(parts)-1 != numFields {
		err = errors.Errorf("expected %d idx:val pairs, got %d", numFields, len(parts)-1)
		return
	}
	idx, val = idxBuf, valBuf
	for _, pair := range parts[1:] {
		idxStr, valStr, found := strings.Cut(pair, ":")
		if !found {
			err = errors.Errorf("invalid feature %q, expected idx:val", pair)
			return
		}
		featIdx, parseErr := strconv.ParseInt(idxStr, 10, 32)
		if parseErr != nil || featIdx < 0 {
			err = errors.Errorf("invalid feature index in %q", pair)
			return
		}
		featVal, parseErr := strconv.ParseFloat(valStr, 32)
		if parseErr != nil {
			err = errors.Wrapf(parseErr, "invalid feature value in %q", pair)
			return
		}
		idx = append(idx, int32(featIdx))
		val = append(val, float32(featVal))
	}
	return
}

// Read parses all samples from r. name is only used for error messages.
// Empty lines are skipped.
func Read(r io.Reader, name string, numFields int) (*Examples, error) {
	examples := NewExamples(numFields, 1024)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	idx := make([]int32, 0, numFields)
	val := make([]float32, 0, numFields)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		label, lineIdx, lineVal, err := ParseLine(line, numFields, idx[:0], val[:0])
		if err != nil {
			return nil, errors.WithMessagef(err, "%s:%d", name, lineNum)
		}
		examples.FeatIndex = append(examples.FeatIndex, lineIdx...)
		examples.FeatValue = append(examples.FeatValue, lineVal...)
		examples.Labels = append(examples.Labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return examples, nil
}

// ReadFile parses the samples of one libsvm-style file.
func ReadFile(path string, numFields int) (*Examples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	return Read(f, path, numFields)
}

// Shards lists the input files of a directory, split by their role.
type Shards struct {
	Train, Valid, Tests []string
}

// ListShards finds the train/valid/tests files in inputDir.
// Train files are shuffled with rng (if not nil), the others are sorted.
func ListShards(inputDir string, rng *rand.Rand) (*Shards, error) {
	s := &Shards{}
	for _, p := range []struct {
		pattern string
		files   *[]string
	}{
		{TrainPattern, &s.Train},
		{ValidPattern, &s.Valid},
		{TestsPattern, &s.Tests},
	} {
		matches, err := filepath.Glob(filepath.Join(inputDir, p.pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "listing %q in %q", p.pattern, inputDir)
		}
		slices.Sort(matches)
		*p.files = matches
	}
	if rng != nil {
		rng.Shuffle(len(s.Train), func(i, j int) { s.Train[i], s.Train[j] = s.Train[j], s.Train[i] })
	}
	return s, nil
}

// LoadFiles parses files concurrently (at most parallelism at a time, or unlimited if <= 0),
// and returns the concatenation of all samples, in the order of files.
//
// The first error cancels the remaining parsers, and is returned.
func LoadFiles(ctx context.Context, files []string, numFields, parallelism int) (*Examples, error) {
	if len(files) == 0 {
		return nil, errors.New("no input files given")
	}
	parts := make([]*Examples, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for ii, path := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			part, err := ReadFile(path, numFields)
			if err != nil {
				return err
			}
			klog.V(1).Infof("parsed %q: %s samples", path, humanize.Comma(int64(part.Len())))
			parts[ii] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Concat(parts...)
}
