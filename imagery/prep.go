package imagery

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/edisonguo/jet"
	"github.com/pkg/errors"
)

// Preparer turns a source path into the ordered list of band files to
// read. Preparing the same path twice yields equivalent results; any side
// effects are confined to the preparer's cache.
type Preparer interface {
	Prepare(ctx context.Context, path string) ([]string, error)
}

// SimplePreparer reads the source file as is.
type SimplePreparer struct{}

func (SimplePreparer) Prepare(ctx context.Context, path string) ([]string, error) {
	return []string{path}, nil
}

const DefaultConvertTemplate = `gdal_translate -q -b 1 -b 2 -b 3 {{ .Input }} {{ .Output }}`

// RGBAPreparer drops the alpha band of RGBA images by running an external
// conversion command once per image into the cache folder.
type RGBAPreparer struct {
	cache    Cache
	template *jet.Template
	verbose  bool

	mu sync.Mutex
}

func NewRGBAPreparer(cache Cache, convertTemplate string, verbose bool) (*RGBAPreparer, error) {
	if cache == nil {
		return nil, errors.New("rgba preparer requires a cache")
	}
	if len(strings.TrimSpace(convertTemplate)) == 0 {
		convertTemplate = DefaultConvertTemplate
	}

	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}))
	tpl, err := view.LoadTemplate("convert", convertTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "parsing convert template")
	}

	return &RGBAPreparer{cache: cache, template: tpl, verbose: verbose}, nil
}

type convertArgs struct {
	Input  string
	Output string
}

func (p *RGBAPreparer) Prepare(ctx context.Context, path string) ([]string, error) {
	name := filepath.Base(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if out, found := p.cache.Lookup(name); found {
		return []string{out}, nil
	}

	outPath := filepath.Join(p.cache.Folder(), name)
	tmpPath := filepath.Join(p.cache.Folder(), ".tmp_"+name)
	defer os.Remove(tmpPath)

	var cmdBuf bytes.Buffer
	if err := p.template.Execute(&cmdBuf, make(jet.VarMap), &convertArgs{Input: path, Output: tmpPath}); err != nil {
		return nil, errors.Wrap(err, "rendering convert command")
	}
	argv := strings.Fields(cmdBuf.String())
	if len(argv) == 0 {
		return nil, errors.New("empty convert command")
	}

	if p.verbose {
		log.Printf("rgba: %s", strings.Join(argv, " "))
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.Wrapf(err, "converting %s: %s", path, strings.TrimSpace(string(out)))
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return nil, errors.Wrapf(err, "storing converted %s", path)
	}
	if _, err := p.cache.Register(name); err != nil {
		return nil, err
	}
	return []string{outPath}, nil
}

type ArchiveFormat int

const (
	TarGzArchive ArchiveFormat = iota
	ZipArchive
)

// ArchivePreparer unpacks archived scenes (Landsat tarballs, WorldView
// zips) into the cache folder and returns the requested _B<n> band TIFFs
// in the requested order. Without a band list every numbered band is
// returned in band number order.
type ArchivePreparer struct {
	cache   Cache
	format  ArchiveFormat
	bands   []int
	verbose bool

	mu sync.Mutex
}

func NewArchivePreparer(cache Cache, format ArchiveFormat, bands []int, verbose bool) (*ArchivePreparer, error) {
	if cache == nil {
		return nil, errors.New("archive preparer requires a cache")
	}
	return &ArchivePreparer{cache: cache, format: format, bands: bands, verbose: verbose}, nil
}

func archiveEntryName(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".tar.gz", ".tgz", ".gz", ".zip"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

func (p *ArchivePreparer) Prepare(ctx context.Context, path string) ([]string, error) {
	name := archiveEntryName(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	dir, found := p.cache.Lookup(name)
	if !found {
		tmpDir, err := ioutil.TempDir(p.cache.Folder(), ".unpack_")
		if err != nil {
			return nil, errors.Wrap(err, "creating unpack dir")
		}
		defer os.RemoveAll(tmpDir)

		if p.verbose {
			log.Printf("archive: unpacking %s", path)
		}
		switch p.format {
		case ZipArchive:
			err = unpackZip(path, tmpDir)
		default:
			err = unpackTarGz(path, tmpDir)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unpacking %s", path)
		}

		dir = filepath.Join(p.cache.Folder(), name)
		os.RemoveAll(dir)
		if err := os.Rename(tmpDir, dir); err != nil {
			return nil, errors.Wrapf(err, "storing unpacked %s", path)
		}
		if _, err := p.cache.Register(name); err != nil {
			return nil, err
		}
	}

	files, err := listBandFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no band files found in %s", path)
	}
	return selectBands(files, p.bands, path)
}

// selectBands picks the files of the wanted band numbers from files,
// which are sorted by band number.
func selectBands(files []string, want []int, archive string) ([]string, error) {
	if len(want) == 0 {
		return files, nil
	}
	byNumber := make(map[int]string, len(files))
	for _, f := range files {
		n := bandNumber(f)
		if _, dup := byNumber[n]; !dup {
			byNumber[n] = f
		}
	}
	bands := make([]string, 0, len(want))
	for _, n := range want {
		f, ok := byNumber[n]
		if !ok {
			return nil, errors.Errorf("band B%d missing from %s", n, archive)
		}
		bands = append(bands, f)
	}
	return bands, nil
}

var reBandNumber = regexp.MustCompile(`(?i)_B(\d+)\.tiff?$`)

func bandNumber(path string) int {
	m := reBandNumber.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return -1
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func listBandFiles(dir string) ([]string, error) {
	var bands []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// QA and metadata rasters carry no _B<n> suffix.
		if !info.IsDir() && bandNumber(path) >= 0 {
			bands = append(bands, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(bands, func(i, j int) bool {
		bi, bj := bandNumber(bands[i]), bandNumber(bands[j])
		if bi != bj {
			return bi < bj
		}
		return bands[i] < bands[j]
	})
	return bands, nil
}

// safeJoin keeps archive entries inside dir.
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", errors.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func unpackTarGz(path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		if err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
			return err
		}
	}
}

func unpackZip(path, dir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		target, err := safeJoin(dir, zf.Name)
		if err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeEntry(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
