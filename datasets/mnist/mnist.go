// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// Package mnist downloads and parses the MNIST handwritten-digit dataset
// in its original IDX format, exposing it as flat float32 tensors ready
// for the classifier.
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	nn "github.com/fumi-engineer/straight_through/go"
)

// mirrorURL hosts gzipped copies of the original IDX files.
const mirrorURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

const (
	imageMagic = 2051
	labelMagic = 2049
	imageSize  = 28 * 28
)

// Dataset holds one split of MNIST: images normalized to [0, 1] as a
// [n, 784] tensor and the matching class labels.
type Dataset struct {
	Images *nn.Tensor
	Labels []int
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Batch returns rows [start, start+size) as a [size, 784] tensor plus
// labels. The tensor copies its rows so callers may mutate it freely.
func (d *Dataset) Batch(start, size int) (*nn.Tensor, []int) {
	if start < 0 || start+size > d.Len() {
		return nil, nil
	}
	src := d.Images.DataPtr()
	data := make([]float32, size*imageSize)
	copy(data, src[start*imageSize:(start+size)*imageSize])
	labels := make([]int, size)
	copy(labels, d.Labels[start:start+size])
	return nn.FromSliceNoCopy(data, nn.NewShape(size, imageSize)), labels
}

// Shuffle permutes examples in place using the given source.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	data := d.Images.DataPtr()
	row := make([]float32, imageSize)
	rng.Shuffle(d.Len(), func(i, j int) {
		a := data[i*imageSize : (i+1)*imageSize]
		b := data[j*imageSize : (j+1)*imageSize]
		copy(row, a)
		copy(a, b)
		copy(b, row)
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}

// Load reads a split from dir, downloading the gzipped IDX files from the
// public mirror first if they are missing.
func Load(dir string, train bool) (*Dataset, error) {
	imgFile, lblFile := "t10k-images-idx3-ubyte.gz", "t10k-labels-idx1-ubyte.gz"
	if train {
		imgFile, lblFile = "train-images-idx3-ubyte.gz", "train-labels-idx1-ubyte.gz"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating dataset dir %s", dir)
	}

	imgPath := filepath.Join(dir, imgFile)
	lblPath := filepath.Join(dir, lblFile)
	for _, p := range []string{imgPath, lblPath} {
		if err := download(p); err != nil {
			return nil, err
		}
	}

	images, err := readGzipped(imgPath, parseImages)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", imgPath)
	}
	labels, err := readGzipped(lblPath, parseLabels)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", lblPath)
	}
	if images.Shape().At(0) != len(labels) {
		return nil, errors.Errorf("image/label count mismatch: %d vs %d",
			images.Shape().At(0), len(labels))
	}
	klog.V(1).Infof("loaded %d MNIST examples from %s", len(labels), dir)
	return &Dataset{Images: images, Labels: labels}, nil
}

// download fetches path from the mirror if it does not exist locally.
func download(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	url := mirrorURL + filepath.Base(path)
	klog.Infof("downloading %s", url)

	resp, err := http.Get(url)
	if err != nil {
		return errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("fetching %s: status %s", url, resp.Status)
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}
	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(path))
	n, err := io.Copy(io.MultiWriter(f, bar), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming %s", tmp)
	}
	klog.V(1).Infof("downloaded %s (%s)", path, humanize.Bytes(uint64(n)))
	return nil
}

func readGzipped[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return zero, errors.Wrap(err, "gzip")
	}
	defer gz.Close()
	return parse(gz)
}

// parseImages decodes an IDX image file: magic 2051, count, rows, cols,
// then count*rows*cols unsigned bytes. Pixels are normalized to [0, 1].
func parseImages(r io.Reader) (*nn.Tensor, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading image header")
	}
	if header[0] != imageMagic {
		return nil, errors.Errorf("bad image magic %d, want %d", header[0], imageMagic)
	}
	count := int(header[1])
	pixels := int(header[2]) * int(header[3])
	if pixels != imageSize {
		return nil, errors.Errorf("unexpected image size %dx%d", header[2], header[3])
	}

	raw := make([]byte, count*pixels)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "reading image data")
	}
	data := make([]float32, len(raw))
	for i, b := range raw {
		data[i] = float32(b) / 255.0
	}
	return nn.FromSliceNoCopy(data, nn.NewShape(count, pixels)), nil
}

// parseLabels decodes an IDX label file: magic 2049, count, then count
// unsigned bytes in [0, 9].
func parseLabels(r io.Reader) ([]int, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading label header")
	}
	if header[0] != labelMagic {
		return nil, errors.Errorf("bad label magic %d, want %d", header[0], labelMagic)
	}
	raw := make([]byte, header[1])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "reading label data")
	}
	labels := make([]int, len(raw))
	for i, b := range raw {
		if b > 9 {
			return nil, errors.Errorf("label %d out of range at index %d", b, i)
		}
		labels[i] = int(b)
	}
	return labels, nil
}
