// Package download fetches the driver binaries LocalDriverPool runs.
package download

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/golang/glog"
	"github.com/google/go-github/v27/github"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// File describes how to download a file from the Web.
type File struct {
	URL  string
	Name string
	// Hash, if set, is checked after downloading. A file already present
	// with the same hash is not downloaded again.
	Hash     string
	HashType string // default is sha256
	// Rename, if it has two elements, renames the first to the second after
	// unpacking.
	Rename []string
}

// SeleniumFile describes how to download the Selenium standalone JAR.
var SeleniumFile = File{
	URL:  "https://selenium-release.storage.googleapis.com/3.141/selenium-server-standalone-3.141.59.jar",
	Name: "selenium-server.jar",
	Hash: "acf71b77d1b66b55db6fb0bed6d8bae2bbd481311bcbedfeff472c0d15e8f3cb",
}

const (
	// Bucket URL: https://console.cloud.google.com/storage/browser/chromium-browser-snapshots
	storageBktName = "chromium-browser-snapshots"
	prefixLinux64  = "Linux_x64"
	lastChangeFile = "Linux_x64/LAST_CHANGE"

	chromeDriverFilename = "chromedriver_linux64.zip"
)

// NewStorageClient returns an unauthenticated client for the public
// Chromium snapshot bucket.
func NewStorageClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithHTTPClient(http.DefaultClient)}
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create a storage client for downloading chromedriver: %v", err)
	}
	return client, nil
}

// ChromeDriverSnapshot describes the chromedriver of a Chromium snapshot
// build. If build is empty the latest build is used.
func ChromeDriverSnapshot(ctx context.Context, client *storage.Client, build string) (File, error) {
	gcsPath := fmt.Sprintf("gs://%s/", storageBktName)
	bkt := client.Bucket(storageBktName)
	if build == "" {
		r, err := bkt.Object(lastChangeFile).NewReader(ctx)
		if err != nil {
			return File{}, fmt.Errorf("cannot create a reader for %s%s file: %v", gcsPath, lastChangeFile, err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return File{}, fmt.Errorf("cannot read from %s%s file: %v", gcsPath, lastChangeFile, err)
		}
		build = strings.TrimSpace(string(data))
	}

	pkg := path.Join(prefixLinux64, build, chromeDriverFilename)
	attrs, err := bkt.Object(pkg).Attrs(ctx)
	if err != nil {
		return File{}, fmt.Errorf("cannot get the chromedriver package %s%s attrs: %v", gcsPath, pkg, err)
	}
	return File{
		URL:      attrs.MediaLink,
		Name:     "chromedriver.zip",
		Hash:     hex.EncodeToString(attrs.MD5),
		HashType: "md5",
		Rename:   []string{"chromedriver_linux64/chromedriver", "chromedriver"},
	}, nil
}

// LatestRelease describes the asset of the latest GitHub release of
// owner/repo whose name matches assetPattern. It will be saved as localName.
func LatestRelease(ctx context.Context, client *github.Client, owner, repo, assetPattern, localName string) (File, error) {
	assetNameRE, err := regexp.Compile(assetPattern)
	if err != nil {
		return File{}, fmt.Errorf("invalid asset name regular expression %q: %s", assetPattern, err)
	}
	rel, _, err := client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return File{}, err
	}
	for _, a := range rel.Assets {
		if !assetNameRE.MatchString(a.GetName()) {
			continue
		}
		u := a.GetBrowserDownloadURL()
		if u == "" {
			return File{}, fmt.Errorf("%s does not have a download URL", a.GetName())
		}
		glog.V(1).Infof("download: %s/%s %s provides %s", owner, repo, rel.GetTagName(), a.GetName())
		return File{URL: u, Name: localName}, nil
	}
	return File{}, fmt.Errorf("release for %s not found at https://github.com/%s/%s/releases", assetPattern, owner, repo)
}

// GeckoDriver describes the latest geckodriver release for 64 bit Linux.
func GeckoDriver(ctx context.Context, client *github.Client) (File, error) {
	return LatestRelease(ctx, client, "mozilla", "geckodriver", `geckodriver-.*linux64\.tar\.gz$`, "geckodriver.tar.gz")
}

// Downloader stores files in a directory.
type Downloader struct {
	// Dir is the target directory; empty means the current one.
	Dir    string
	Client *http.Client
}

func (d *Downloader) path(name string) string {
	if d.Dir != "" {
		return filepath.Join(d.Dir, name)
	}
	return name
}

// FetchAll downloads files in parallel and stops at the first error.
func (d *Downloader) FetchAll(ctx context.Context, files []File) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := d.Fetch(ctx, file); err != nil {
				return fmt.Errorf("error handling %s: %w", file.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Fetch downloads file if it is not already present, then unpacks and
// renames it.
func (d *Downloader) Fetch(ctx context.Context, file File) error {
	if file.Hash != "" && d.sameHash(file) {
		glog.Infof("Skipping file %q which has already been downloaded.", file.Name)
	} else {
		glog.Infof("Downloading %q from %q", file.Name, file.URL)
		if err := d.download(ctx, file); err != nil {
			return err
		}
	}

	if err := d.unpack(ctx, file); err != nil {
		return err
	}

	if rename := file.Rename; len(rename) == 2 {
		from, to := d.path(rename[0]), d.path(rename[1])
		glog.Infof("Renaming %q to %q", from, to)
		os.RemoveAll(to) // Ignore error.
		if err := os.Rename(from, to); err != nil {
			glog.Warningf("Error renaming %q to %q: %v", from, to, err)
		}
	}
	return nil
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

func (d *Downloader) download(ctx context.Context, file File) (err error) {
	p := d.path(file.Name)
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("error creating %q: %v", p, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing %q: %v", p, closeErr)
		}
	}()

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: error downloading %q: %v", file.Name, file.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: error downloading %q: %s", file.Name, file.URL, resp.Status)
	}

	h := newHash(file.HashType)
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		return fmt.Errorf("%s: error downloading %q: %v", file.Name, file.URL, err)
	}
	if file.Hash != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); sum != file.Hash {
			return fmt.Errorf("%s: got %s hash %q, want %q", file.Name, file.HashType, sum, file.Hash)
		}
	}
	return nil
}

func (d *Downloader) sameHash(file File) bool {
	f, err := os.Open(d.path(file.Name))
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

func (d *Downloader) unpack(ctx context.Context, file File) error {
	dir := "."
	if d.Dir != "" {
		dir = d.Dir
	}

	var args []string
	switch path.Ext(file.Name) {
	case ".zip":
		args = []string{"unzip", "-d", dir, "-o", d.path(file.Name)}
	case ".gz":
		args = []string{"tar", "-xzf", d.path(file.Name), "-C", dir}
	case ".bz2":
		args = []string{"tar", "-xjf", d.path(file.Name), "-C", dir}
	default:
		return nil
	}

	glog.Infof("Unzipping %q", d.path(file.Name))
	if out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput(); err != nil {
		return fmt.Errorf("error unzipping %q: %v: %s", file.Name, err, out)
	}
	return nil
}
