// Package download fetches driver executables and browsers from the Web.
package download

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/golang/glog"
	"github.com/google/go-github/v27/github"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// File describes how to download a file from the Web.
type File struct {
	URL  string
	Name string
	// Hash is the hex digest of the file; empty skips verification.
	Hash     string
	HashType string // default is sha256
	// Rename moves Rename[0] to Rename[1] once the archive is unpacked.
	Rename  []string
	Browser bool
}

// Path returns where the file is stored in dir.
func (f File) Path(dir string) string {
	if dir != "" {
		return filepath.Join(dir, f.Name)
	}
	return f.Name
}

var (
	// ChromeDriverFile describes how to download the ChromeDriver binary.
	ChromeDriverFile = File{
		URL:  "https://chromedriver.storage.googleapis.com/76.0.3809.25/chromedriver_linux64.zip",
		Name: "chromedriver.zip",
		Hash: "0a264a8b2fa881edf33657ba88709ae3dbaec72d8b41beebf1c89d5e3bc3e594",
	}

	// GeckodriverFile describes how to download the Geckodriver binary.
	GeckodriverFile = File{
		URL:  "https://github.com/mozilla/geckodriver/releases/download/v0.24.0/geckodriver-v0.24.0-linux64.tar.gz",
		Name: "geckodriver.tar.gz",
		Hash: "03be3d3b16b57e0f3e7e8ba7c1e4bf090620c147e6804f6c6f3203864f5e3784",
	}

	// PhantomJSFile describes how to download the PhantomJS binary.
	PhantomJSFile = File{
		URL:    "https://bitbucket.org/ariya/phantomjs/downloads/phantomjs-2.1.1-linux-x86_64.tar.bz2",
		Name:   "phantomjs.tar.bz2",
		Rename: []string{"phantomjs-2.1.1-linux-x86_64/bin/phantomjs", "phantomjs"},
	}
)

// DriverFiles are the driver executables pinned to known versions.
func DriverFiles() []File {
	return []File{ChromeDriverFile, GeckodriverFile, PhantomJSFile}
}

// Downloader stores files on Fs.
type Downloader struct {
	Fs     afero.Fs
	Client *http.Client
}

// New returns a Downloader writing to the local disk.
func New() *Downloader {
	return &Downloader{Fs: afero.NewOsFs(), Client: http.DefaultClient}
}

// Download fetches file into dir unless a copy with the expected hash is
// already there, then unpacks it.
func (d *Downloader) Download(ctx context.Context, file File, dir string) error {
	if dir != "" {
		if err := d.Fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if file.Hash != "" && d.sameHash(file, dir) {
		glog.Infof("Skipping file %q which has already been downloaded.", file.Name)
	} else {
		glog.Infof("Downloading %q from %q", file.Name, file.URL)
		if err := d.downloadFile(ctx, file, dir); err != nil {
			return err
		}
	}

	if err := d.unpack(file, dir); err != nil {
		return err
	}

	if rename := file.Rename; len(rename) == 2 {
		from := filepath.Join(dir, rename[0])
		to := filepath.Join(dir, rename[1])
		glog.Infof("Renaming %q to %q", from, to)
		d.Fs.RemoveAll(to) // Ignore error.
		if err := d.Fs.Rename(from, to); err != nil {
			glog.Warningf("Error renaming %q to %q: %v", from, to, err)
		}
	}
	return nil
}

// DownloadAll downloads files into dir concurrently.
func (d *Downloader) DownloadAll(ctx context.Context, dir string, files []File) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := d.Download(ctx, file, dir); err != nil {
				return fmt.Errorf("error handling %s: %v", file.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func newHash(hashType string) hash.Hash {
	switch strings.ToLower(hashType) {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	}
	return sha256.New()
}

func (d *Downloader) downloadFile(ctx context.Context, file File, dir string) (err error) {
	p := file.Path(dir)
	req, err := http.NewRequest(http.MethodGet, file.URL, nil)
	if err != nil {
		return fmt.Errorf("%s: %v", file.Name, err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s: error downloading %q: %v", file.Name, file.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: error downloading %q: %s", file.Name, file.URL, resp.Status)
	}

	f, err := d.Fs.Create(p)
	if err != nil {
		return fmt.Errorf("error creating %q: %v", p, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing %q: %v", p, closeErr)
		}
	}()

	if file.Hash == "" {
		if _, err := io.Copy(f, resp.Body); err != nil {
			return fmt.Errorf("%s: error downloading %q: %v", file.Name, file.URL, err)
		}
		return nil
	}
	h := newHash(file.HashType)
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		return fmt.Errorf("%s: error downloading %q: %v", file.Name, file.URL, err)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != file.Hash {
		return fmt.Errorf("%s: got %s hash %q, want %q", file.Name, file.HashType, sum, file.Hash)
	}
	return nil
}

func (d *Downloader) sameHash(file File, dir string) bool {
	f, err := d.Fs.Open(file.Path(dir))
	if err != nil {
		return false
	}
	defer f.Close()

	h := newHash(file.HashType)
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if sum != file.Hash {
		glog.Warningf("File %q: got hash %q, expect hash %q", file.Name, sum, file.Hash)
		return false
	}
	return true
}

func (d *Downloader) unpack(file File, dir string) error {
	p := file.Path(dir)
	var err error
	switch {
	case strings.HasSuffix(file.Name, ".zip"):
		err = d.unzip(p, dir)
	case strings.HasSuffix(file.Name, ".tar.gz"), strings.HasSuffix(file.Name, ".tgz"):
		err = d.untar(p, dir, func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) })
	case strings.HasSuffix(file.Name, ".tar.bz2"):
		err = d.untar(p, dir, func(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil })
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("error unpacking %q: %v", file.Name, err)
	}
	return nil
}

// target returns where the archive member name is written inside dir,
// refusing names that escape it.
func target(dir, name string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(name))
	if clean == "/" {
		return "", fmt.Errorf("invalid archive member %q", name)
	}
	return filepath.Join(dir, filepath.FromSlash(clean[1:])), nil
}

func (d *Downloader) writeMember(dir, name string, mode os.FileMode, r io.Reader) error {
	p, err := target(dir, name)
	if err != nil {
		return err
	}
	if err := d.Fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	f, err := d.Fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return d.Fs.Chmod(p, mode.Perm())
}

func (d *Downloader) unzip(p, dir string) error {
	glog.Infof("Unzipping %q", p)
	f, err := d.Fs.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return err
	}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = d.writeMember(dir, zf.Name, zf.Mode(), rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) untar(p, dir string, decompress func(io.Reader) (io.Reader, error)) error {
	glog.Infof("Unpacking %q", p)
	f, err := d.Fs.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := decompress(f)
	if err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			continue
		}
		if err := d.writeMember(dir, hdr.Name, os.FileMode(hdr.Mode), tr); err != nil {
			return err
		}
	}
}

// LatestGithubRelease describes the asset of the latest release of
// owner/repo whose name matches assetRE. It is stored as localName.
func LatestGithubRelease(ctx context.Context, client *github.Client, owner, repo, assetRE, localName string) (File, error) {
	re, err := regexp.Compile(assetRE)
	if err != nil {
		return File{}, fmt.Errorf("invalid asset name regular expression %q: %s", assetRE, err)
	}
	if client == nil {
		client = github.NewClient(nil)
	}
	rel, _, err := client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return File{}, err
	}
	for _, a := range rel.Assets {
		if !re.MatchString(a.GetName()) {
			continue
		}
		u := a.GetBrowserDownloadURL()
		if u == "" {
			return File{}, fmt.Errorf("%s does not have a download URL", a.GetName())
		}
		return File{Name: localName, URL: u}, nil
	}
	return File{}, fmt.Errorf("release for %s not found at https://github.com/%s/%s/releases", assetRE, owner, repo)
}

// LatestGeckodriver describes the newest Linux geckodriver release.
func LatestGeckodriver(ctx context.Context, client *github.Client) (File, error) {
	return LatestGithubRelease(ctx, client, "mozilla", "geckodriver", "geckodriver-.*linux64.tar.gz", "geckodriver.tar.gz")
}

// ChromeSnapshotFiles describes the Chromium snapshot browser of the given
// build and its ChromeDriver. An empty build means the latest one.
func ChromeSnapshotFiles(ctx context.Context, build string, opts ...option.ClientOption) ([]File, error) {
	const (
		// Bucket URL: https://console.cloud.google.com/storage/browser/chromium-browser-snapshots
		storageBktName             = "chromium-browser-snapshots"
		prefixLinux64              = "Linux_x64"
		lastChangeFile             = "Linux_x64/LAST_CHANGE"
		chromeFilename             = "chrome-linux.zip"
		chromeDriverFilename       = "chromedriver_linux64.zip"
		chromeDriverTargetFilename = "chromedriver.zip"
	)
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithHTTPClient(http.DefaultClient)}
	}
	gcsPath := fmt.Sprintf("gs://%s/", storageBktName)
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create a storage client for downloading the chrome browser: %v", err)
	}
	defer client.Close()

	bkt := client.Bucket(storageBktName)
	if build == "" {
		r, err := bkt.Object(lastChangeFile).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot create a reader for %s%s file: %v", gcsPath, lastChangeFile, err)
		}
		defer r.Close()
		// The last change file holds the latest build directory name.
		data, err := ioutil.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("cannot read from %s%s file: %v", gcsPath, lastChangeFile, err)
		}
		build = strings.TrimSpace(string(data))
	}

	var files []File
	for _, f := range []struct {
		object string
		file   File
	}{
		{chromeFilename, File{Name: chromeFilename, Browser: true}},
		{chromeDriverFilename, File{
			Name:   chromeDriverTargetFilename,
			Rename: []string{"chromedriver_linux64/chromedriver", "chromedriver"},
		}},
	} {
		object := path.Join(prefixLinux64, build, f.object)
		attrs, err := bkt.Object(object).Attrs(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot get the attrs of %s%s: %v", gcsPath, object, err)
		}
		f.file.URL = attrs.MediaLink
		f.file.Hash = hex.EncodeToString(attrs.MD5)
		f.file.HashType = "md5"
		files = append(files, f.file)
	}
	return files, nil
}
