package download

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v27/github"
	"github.com/spf13/afero"
	"google.golang.org/api/option"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for name, body := range files {
		h := &zip.FileHeader{Name: name, Method: zip.Deflate}
		h.SetMode(0755)
		f, err := w.CreateHeader(h)
		if err != nil {
			t.Fatalf("zip CreateHeader(%q) returned error: %v", name, err)
		}
		if _, err := f.Write([]byte(body)); err != nil {
			t.Fatalf("zip Write returned error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close returned error: %v", err)
	}
	return buf.Bytes()
}

func tarGzArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	gz := gzip.NewWriter(buf)
	w := tar.NewWriter(gz)
	for name, body := range files {
		if err := w.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0755,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatalf("tar WriteHeader(%q) returned error: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("tar Write returned error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("tar Close returned error: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close returned error: %v", err)
	}
	return buf.Bytes()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// server serves payloads by path and counts the requests for each.
type server struct {
	*httptest.Server
	mu       sync.Mutex
	payloads map[string][]byte
	hits     map[string]int
}

func newServer(t *testing.T, payloads map[string][]byte) *server {
	s := &server{payloads: payloads, hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		b, ok := s.payloads[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(b)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) count(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[p]
}

func readFile(t *testing.T, fs afero.Fs, p string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, p)
	if err != nil {
		t.Fatalf("ReadFile(%q) returned error: %v", p, err)
	}
	return string(b)
}

func TestDownload(t *testing.T) {
	zipped := zipArchive(t, map[string]string{"chromedriver": "#!/bin/sh\necho chromedriver"})
	tarred := tarGzArchive(t, map[string]string{"gecko-v1/geckodriver": "#!/bin/sh\necho geckodriver"})
	s := newServer(t, map[string][]byte{
		"/chromedriver.zip": zipped,
		"/geckodriver.tgz":  tarred,
		"/plain/phantomjs":  []byte("binary"),
	})

	tests := []struct {
		desc     string
		file     File
		wantPath string
		wantBody string
	}{
		{
			desc:     "zip",
			file:     File{URL: s.URL + "/chromedriver.zip", Name: "chromedriver.zip", Hash: sha256Hex(zipped)},
			wantPath: "/drivers/chromedriver",
			wantBody: "#!/bin/sh\necho chromedriver",
		}, {
			desc:     "tar.gz with rename",
			file:     File{URL: s.URL + "/geckodriver.tgz", Name: "geckodriver.tar.gz", Rename: []string{"gecko-v1/geckodriver", "geckodriver"}},
			wantPath: "/drivers/geckodriver",
			wantBody: "#!/bin/sh\necho geckodriver",
		}, {
			desc:     "plain file",
			file:     File{URL: s.URL + "/plain/phantomjs", Name: "phantomjs"},
			wantPath: "/drivers/phantomjs",
			wantBody: "binary",
		},
	}
	for _, test := range tests {
		fs := afero.NewMemMapFs()
		d := &Downloader{Fs: fs, Client: s.Client()}
		if err := d.Download(context.Background(), test.file, "/drivers"); err != nil {
			t.Errorf("%s: Download returned error: %v", test.desc, err)
			continue
		}
		if got := readFile(t, fs, test.wantPath); got != test.wantBody {
			t.Errorf("%s: %s holds %q, want %q", test.desc, test.wantPath, got, test.wantBody)
		}
		fi, err := fs.Stat(test.wantPath)
		if err != nil {
			t.Fatalf("%s: Stat(%q) returned error: %v", test.desc, test.wantPath, err)
		}
		if strings.HasPrefix(test.desc, "plain") {
			continue
		}
		if fi.Mode().Perm()&0111 == 0 {
			t.Errorf("%s: %s mode = %v, want executable", test.desc, test.wantPath, fi.Mode())
		}
	}
}

func TestDownloadSkipsMatchingHash(t *testing.T) {
	body := []byte("binary")
	s := newServer(t, map[string][]byte{"/driver": body})
	fs := afero.NewMemMapFs()
	d := &Downloader{Fs: fs, Client: s.Client()}
	file := File{URL: s.URL + "/driver", Name: "driver", Hash: sha256Hex(body)}

	for i := 0; i < 2; i++ {
		if err := d.Download(context.Background(), file, "/d"); err != nil {
			t.Fatalf("Download #%d returned error: %v", i, err)
		}
	}
	if hits := s.count("/driver"); hits != 1 {
		t.Errorf("driver fetched %d times, want 1", hits)
	}

	if err := afero.WriteFile(fs, "/d/driver", []byte("stale"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := d.Download(context.Background(), file, "/d"); err != nil {
		t.Fatalf("Download over a stale file returned error: %v", err)
	}
	if hits := s.count("/driver"); hits != 2 {
		t.Errorf("driver fetched %d times after going stale, want 2", hits)
	}
}

func TestDownloadErrors(t *testing.T) {
	s := newServer(t, map[string][]byte{
		"/tampered":   []byte("tampered"),
		"/broken.zip": []byte("not a zip"),
	})
	tests := []struct {
		desc string
		file File
	}{
		{"hash mismatch", File{URL: s.URL + "/tampered", Name: "driver", Hash: sha256Hex([]byte("original"))}},
		{"md5 mismatch", File{URL: s.URL + "/tampered", Name: "driver", Hash: "00", HashType: "md5"}},
		{"not found", File{URL: s.URL + "/missing", Name: "driver"}},
		{"corrupt archive", File{URL: s.URL + "/broken.zip", Name: "broken.zip"}},
	}
	for _, test := range tests {
		d := &Downloader{Fs: afero.NewMemMapFs(), Client: s.Client()}
		if err := d.Download(context.Background(), test.file, "/d"); err == nil {
			t.Errorf("%s: Download did not return an error", test.desc)
		}
	}
}

func TestUnpackRefusesEscapingNames(t *testing.T) {
	for _, name := range []string{"../evil", "/etc/passwd", "a/../../evil"} {
		p, err := target("/d", name)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(p, "/d/") {
			t.Errorf("target(/d, %q) = %q, which escapes the directory", name, p)
		}
	}
	if _, err := target("/d", "/"); err == nil {
		t.Error("target(/d, /) did not return an error")
	}
}

func TestDownloadAll(t *testing.T) {
	payloads := map[string][]byte{}
	var files []File
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("driver%d", i)
		payloads["/"+name] = []byte(name)
		files = append(files, File{Name: name})
	}
	s := newServer(t, payloads)
	for i := range files {
		files[i].URL = s.URL + "/" + files[i].Name
	}

	fs := afero.NewMemMapFs()
	d := &Downloader{Fs: fs, Client: s.Client()}
	if err := d.DownloadAll(context.Background(), "/d", files); err != nil {
		t.Fatalf("DownloadAll returned error: %v", err)
	}
	for _, f := range files {
		if got := readFile(t, fs, f.Path("/d")); got != f.Name {
			t.Errorf("%s holds %q, want %q", f.Path("/d"), got, f.Name)
		}
	}

	files = append(files, File{Name: "missing", URL: s.URL + "/missing"})
	if err := d.DownloadAll(context.Background(), "/d", files); err == nil {
		t.Error("DownloadAll with a missing file did not return an error")
	}
}

func TestLatestGithubRelease(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/mozilla/geckodriver/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"tag_name": "v0.26.0",
			"assets": [
				{"name": "geckodriver-v0.26.0-macos.tar.gz", "browser_download_url": "https://example.com/macos.tar.gz"},
				{"name": "geckodriver-v0.26.0-linux64.tar.gz", "browser_download_url": "https://example.com/linux64.tar.gz"},
				{"name": "geckodriver-v0.26.0-win64.zip"}
			]
		}`)
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	client := github.NewClient(s.Client())
	u, err := url.Parse(s.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	client.BaseURL = u

	got, err := LatestGeckodriver(context.Background(), client)
	if err != nil {
		t.Fatalf("LatestGeckodriver returned error: %v", err)
	}
	want := File{Name: "geckodriver.tar.gz", URL: "https://example.com/linux64.tar.gz"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LatestGeckodriver returned diff (-want/+got):\n%s", diff)
	}

	tests := []struct {
		desc    string
		assetRE string
	}{
		{"no matching asset", "geckodriver-.*arm7.tar.gz"},
		{"asset without a URL", "geckodriver-.*win64.zip"},
		{"invalid expression", "geckodriver-("},
	}
	for _, test := range tests {
		if _, err := LatestGithubRelease(context.Background(), client, "mozilla", "geckodriver", test.assetRE, "x"); err == nil {
			t.Errorf("%s: LatestGithubRelease did not return an error", test.desc)
		}
	}
}

func TestPath(t *testing.T) {
	f := File{Name: "chromedriver.zip"}
	if got := f.Path(""); got != "chromedriver.zip" {
		t.Errorf("Path(\"\") = %q", got)
	}
	if got := f.Path("/drivers/bin"); got != "/drivers/bin/chromedriver.zip" {
		t.Errorf("Path(/drivers/bin) = %q", got)
	}
}

// toServer sends every request to the server at u, whatever host it names.
type toServer struct{ u *url.URL }

func (t toServer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme, r.URL.Host = t.u.Scheme, t.u.Host
	return http.DefaultTransport.RoundTrip(r)
}

// newSnapshotBucket serves the Chromium snapshot bucket: LAST_CHANGE through
// the download host and object metadata through the JSON API.
func newSnapshotBucket(t *testing.T, latest string, objects map[string][]byte) option.ClientOption {
	t.Helper()
	const bucket = "chromium-browser-snapshots"
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+bucket+"/Linux_x64/LAST_CHANGE" {
			fmt.Fprintln(w, latest)
			return
		}
		prefix := "/storage/v1/b/" + bucket + "/o/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, prefix)
		body, ok := objects[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		sum := md5.Sum(body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"bucket":    bucket,
			"name":      name,
			"mediaLink": "https://example.com/" + name,
			"md5Hash":   base64.StdEncoding.EncodeToString(sum[:]),
		})
	}))
	t.Cleanup(s.Close)
	u, err := url.Parse(s.URL)
	if err != nil {
		t.Fatal(err)
	}
	return option.WithHTTPClient(&http.Client{Transport: toServer{u}})
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestChromeSnapshotFiles(t *testing.T) {
	chrome, driver := []byte("chrome"), []byte("chromedriver")
	client := newSnapshotBucket(t, "664981", map[string][]byte{
		"Linux_x64/664981/chrome-linux.zip":         chrome,
		"Linux_x64/664981/chromedriver_linux64.zip": driver,
		"Linux_x64/123/chrome-linux.zip":            chrome,
		"Linux_x64/123/chromedriver_linux64.zip":    driver,
		"Linux_x64/no-driver/chrome-linux.zip":      chrome,
	})
	want := func(build string) []File {
		return []File{{
			URL:      "https://example.com/Linux_x64/" + build + "/chrome-linux.zip",
			Name:     "chrome-linux.zip",
			Hash:     md5Hex(chrome),
			HashType: "md5",
			Browser:  true,
		}, {
			URL:      "https://example.com/Linux_x64/" + build + "/chromedriver_linux64.zip",
			Name:     "chromedriver.zip",
			Hash:     md5Hex(driver),
			HashType: "md5",
			Rename:   []string{"chromedriver_linux64/chromedriver", "chromedriver"},
		}}
	}

	tests := []struct {
		desc  string
		build string
		want  []File
	}{
		{"latest build", "", want("664981")},
		{"pinned build", "123", want("123")},
	}
	for _, test := range tests {
		got, err := ChromeSnapshotFiles(context.Background(), test.build, client)
		if err != nil {
			t.Errorf("%s: ChromeSnapshotFiles returned error: %v", test.desc, err)
			continue
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("%s: ChromeSnapshotFiles returned diff (-want/+got):\n%s", test.desc, diff)
		}
	}

	for _, build := range []string{"no-driver", "missing"} {
		if _, err := ChromeSnapshotFiles(context.Background(), build, client); err == nil {
			t.Errorf("ChromeSnapshotFiles(%q) did not return an error", build)
		}
	}
}
