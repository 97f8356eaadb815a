// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"image"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LabelEncoding defines how label images are converted to label tensors.
type LabelEncoding int

const (
	// MultiHot encodes the presence of each evaluated label in the image, shaped `[batch_size, nb_labels]`.
	// Used for feature detection.
	MultiHot LabelEncoding = iota

	// OneHot encodes each pixel as a one-hot vector of the evaluated labels,
	// shaped `[batch_size, height, width, nb_labels]`. Used for semantic segmentation.
	OneHot
)

// String implements fmt.Stringer.
func (e LabelEncoding) String() string {
	switch e {
	case MultiHot:
		return "multi-hot"
	case OneHot:
		return "one-hot"
	}
	return "unknown"
}

// imageExtensions accepted in the images folder.
var imageExtensions = []string{".png", ".jpg", ".jpeg"}

var (
	AssertGeneratorIsTrainDataset *Generator
	_                             train.Dataset = AssertGeneratorIsTrainDataset
)

// Generator is a train.Dataset that yields batches of preprocessed images and their labels from
// a role folder (see Folders.Dir).
//
// It loops over the images forever, reshuffling them at each pass. Use Generator.Limit to make
// it return io.EOF after a fixed number of batches, as needed for evaluation.
type Generator struct {
	name      string
	dir       string
	size      int
	batchSize int
	encoding  LabelEncoding
	labelIDs  []int
	labelIdx  map[int]int
	dtype     dtypes.DType
	toTensor  *timage.ToTensorConfig

	mu       sync.Mutex
	rng      *rand.Rand
	files    []string
	next     int
	limit    int
	numYield int
}

// NewGenerator creates a Generator of the images in dir, resized to size x size pixels.
//
// The labelIDs are the evaluated label ids (see LabelConfig.EvaluatedIDs), and define the order of
// the labels dimension. The seed is used to shuffle the images.
func NewGenerator(name, dir string, size, batchSize int, encoding LabelEncoding, labelIDs []int,
	seed int64) (*Generator, error) {
	if size <= 0 || batchSize <= 0 {
		return nil, errors.Errorf("generator %q: invalid image size (%d) or batch size (%d)", name, size, batchSize)
	}
	if len(labelIDs) == 0 {
		return nil, errors.Errorf("generator %q: no evaluated labels", name)
	}
	entries, err := os.ReadDir(filepath.Join(dir, ImagesDir))
	if err != nil {
		return nil, errors.Wrapf(err, "generator %q: failed to list images", name)
	}
	gen := &Generator{
		name:      name,
		dir:       dir,
		size:      size,
		batchSize: batchSize,
		encoding:  encoding,
		labelIDs:  slices.Clone(labelIDs),
		labelIdx:  make(map[int]int, len(labelIDs)),
		dtype:     dtypes.Float32,
		rng:       rand.New(rand.NewSource(seed)),
	}
	gen.toTensor = timage.ToTensor(gen.dtype)
	for idx, id := range labelIDs {
		gen.labelIdx[id] = idx
	}
	for _, entry := range entries {
		if entry.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}
		gen.files = append(gen.files, entry.Name())
	}
	if len(gen.files) == 0 {
		return nil, errors.Errorf("generator %q: no images found in %q", name, filepath.Join(dir, ImagesDir))
	}
	slices.Sort(gen.files)
	gen.shuffle()
	klog.V(1).Infof("generator %q: %d images in %q", name, len(gen.files), dir)
	return gen, nil
}

// Limit the number of batches yielded before io.EOF is returned. After io.EOF, Reset allows
// another pass, which continues from the next image. A value of 0 means no limit.
func (gen *Generator) Limit(numBatches int) *Generator {
	gen.limit = numBatches
	return gen
}

// Name implements train.Dataset.
func (gen *Generator) Name() string { return gen.name }

// NumImages in the generator folder.
func (gen *Generator) NumImages() int { return len(gen.files) }

// Reset implements train.Dataset. It restarts the count of batches used by Limit.
func (gen *Generator) Reset() {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	gen.numYield = 0
}

func (gen *Generator) shuffle() {
	gen.rng.Shuffle(len(gen.files), func(i, j int) {
		gen.files[i], gen.files[j] = gen.files[j], gen.files[i]
	})
	gen.next = 0
}

// nextFiles returns the file names of the next batch.
func (gen *Generator) nextFiles() []string {
	names := make([]string, 0, gen.batchSize)
	for len(names) < gen.batchSize {
		if gen.next >= len(gen.files) {
			gen.shuffle()
		}
		names = append(names, gen.files[gen.next])
		gen.next++
	}
	return names
}

// Yield implements train.Dataset. It returns:
//
//   - spec: nil.
//   - inputs: the images batch shaped `[batch_size, size, size, 3]`, with values from 0 to 1.
//   - labels: the labels encoded according to the generator LabelEncoding.
func (gen *Generator) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	gen.mu.Lock()
	defer gen.mu.Unlock()
	if gen.limit > 0 && gen.numYield >= gen.limit {
		err = io.EOF
		return
	}
	names := gen.nextFiles()
	imgs := make([]image.Image, len(names))
	labelImgs := make([]*image.NRGBA, len(names))
	for ii, name := range names {
		imgs[ii], labelImgs[ii], err = gen.load(name)
		if err != nil {
			return
		}
	}
	gen.numYield++
	inputs = []*tensors.Tensor{gen.toTensor.Batch(imgs)}
	labels = []*tensors.Tensor{gen.encodeLabels(labelImgs)}
	return
}

// load reads an image and its label image, both resized to the generator size.
func (gen *Generator) load(name string) (img image.Image, label *image.NRGBA, err error) {
	imgPath := filepath.Join(gen.dir, ImagesDir, name)
	img, err = imaging.Open(imgPath)
	if err != nil {
		err = errors.Wrapf(err, "generator %q: failed to read image", gen.name)
		return
	}
	if b := img.Bounds(); b.Dx() != gen.size || b.Dy() != gen.size {
		img = imaging.Resize(img, gen.size, gen.size, imaging.Linear)
	}

	labelPath := filepath.Join(gen.dir, LabelsDir, strings.TrimSuffix(name, filepath.Ext(name))+".png")
	labelImg, err := imaging.Open(labelPath)
	if err != nil {
		err = errors.Wrapf(err, "generator %q: failed to read label image of %q", gen.name, name)
		return
	}
	// Nearest neighbor, so label ids are never interpolated.
	label = imaging.Resize(labelImg, gen.size, gen.size, imaging.NearestNeighbor)
	return
}

// encodeLabels converts label images, where the pixel value is the label id, to a tensor.
func (gen *Generator) encodeLabels(labelImgs []*image.NRGBA) *tensors.Tensor {
	numLabels := len(gen.labelIDs)
	numPixels := gen.size * gen.size
	switch gen.encoding {
	case OneHot:
		data := make([]float32, len(labelImgs)*numPixels*numLabels)
		for exampleIdx, img := range labelImgs {
			base := exampleIdx * numPixels * numLabels
			for pixelIdx := range numPixels {
				if idx, found := gen.labelIdx[int(img.Pix[4*pixelIdx])]; found {
					data[base+pixelIdx*numLabels+idx] = 1
				}
			}
		}
		return tensors.FromFlatDataAndDimensions(data, len(labelImgs), gen.size, gen.size, numLabels)
	default:
		data := make([]float32, len(labelImgs)*numLabels)
		for exampleIdx, img := range labelImgs {
			for pixelIdx := range numPixels {
				if idx, found := gen.labelIdx[int(img.Pix[4*pixelIdx])]; found {
					data[exampleIdx*numLabels+idx] = 1
				}
			}
		}
		return tensors.FromFlatDataAndDimensions(data, len(labelImgs), numLabels)
	}
}
