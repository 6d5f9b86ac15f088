package pipeline

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const DefaultDPI = 150

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImageFile reports whether path has an extension the decoders accept.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// OpenSource picks a PDF or image source for path.
func OpenSource(path string, dpi int) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewPDFSource(path, dpi)
	}
	return NewImageSource(path)
}

// ImageSource reads frames from a single image file or from every image
// file in a directory, in name order.
type ImageSource struct {
	paths []string
	names []string
}

func NewImageSource(path string) (*ImageSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if !info.IsDir() {
		if !IsImageFile(path) {
			return nil, fmt.Errorf("pipeline: unsupported image type %q", filepath.Ext(path))
		}
		return &ImageSource{paths: []string{path}, names: frameNames([]string{path})}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("pipeline: no images in %s", path)
	}
	return &ImageSource{paths: paths, names: frameNames(paths)}, nil
}

// frameNames strips extensions from paths. Stems shared by several files
// (shot.png, shot.jpg) get a numeric suffix after the first one so every
// frame maps to its own output file.
func frameNames(paths []string) []string {
	stem := func(p string) string {
		base := filepath.Base(p)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}

	taken := make(map[string]bool, len(paths))
	for _, p := range paths {
		taken[stem(p)] = true
	}

	names := make([]string, len(paths))
	seen := make(map[string]bool, len(paths))
	for i, p := range paths {
		name := stem(p)
		if seen[name] {
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d", name, n)
				if !taken[candidate] {
					name = candidate
					break
				}
			}
			taken[name] = true
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func (s *ImageSource) Count() int {
	return len(s.paths)
}

func (s *ImageSource) Frame(index int) (image.Image, error) {
	if index < 0 || index >= len(s.paths) {
		return nil, fmt.Errorf("pipeline: frame %d out of range [0,%d)", index, len(s.paths))
	}

	f, err := os.Open(s.paths[index])
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode %s: %w", filepath.Base(s.paths[index]), err)
	}
	return img, nil
}

func (s *ImageSource) Name(index int) string {
	return s.names[index]
}

func (s *ImageSource) Close() error {
	return nil
}

// PDFSource renders one frame per page.
type PDFSource struct {
	doc  *fitz.Document
	path string
	dpi  int
}

func NewPDFSource(path string, dpi int) (*PDFSource, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open pdf %s: %w", path, err)
	}
	return &PDFSource{doc: doc, path: path, dpi: dpi}, nil
}

func (p *PDFSource) Count() int {
	return p.doc.NumPage()
}

// Frame renders on a private document handle so pages can be rendered
// from several workers at once.
func (p *PDFSource) Frame(index int) (image.Image, error) {
	workerDoc, err := fitz.New(p.path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open pdf %s: %w", p.path, err)
	}
	defer workerDoc.Close()

	img, err := workerDoc.ImageDPI(index, float64(p.dpi))
	if err != nil {
		return nil, fmt.Errorf("pipeline: render page %d: %w", index+1, err)
	}
	return img, nil
}

func (p *PDFSource) Name(index int) string {
	return fmt.Sprintf("page-%04d", index+1)
}

func (p *PDFSource) Close() error {
	return p.doc.Close()
}
