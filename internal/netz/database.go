package netz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/kala/internal/world"
)

// DefaultBaseURL is the public Netzschleuder repository.
const DefaultBaseURL = "https://networks.skewed.de"

// ErrCached is returned by Fetch when the file exists and replace is false.
var ErrCached = errors.New("network already cached")

// Database downloads Netzschleuder records into a local cache of decompressed
// graph-tool files.
type Database struct {
	CacheDir string
	BaseURL  string       // DefaultBaseURL if empty
	Client   *http.Client // http.DefaultClient if nil
	Logger   *slog.Logger // slog.Default() if nil
}

// NewDatabase returns a database caching under dir.
func NewDatabase(dir string) *Database {
	return &Database{CacheDir: dir, BaseURL: DefaultBaseURL}
}

// FileName returns the cache path for a record: lower case, with dashes and spaces
// turned into underscores, the sub-network appended when given.
func (d *Database) FileName(name, net string) string {
	base := safeName(name)
	if net != "" {
		base += "_" + safeName(net)
	}
	return filepath.Join(d.CacheDir, base+".gt")
}

func safeName(s string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(s))
}

// Fetch downloads /net/{name}/files/{net}.gt.zst, decompresses it and stores it in
// the cache. net defaults to name. An existing file is kept unless replace is set.
func (d *Database) Fetch(ctx context.Context, name, net string, replace bool) (string, error) {
	path := d.FileName(name, net)
	if _, err := os.Stat(path); err == nil && !replace {
		return path, ErrCached
	}
	if net == "" {
		net = name
	}

	base := d.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := fmt.Sprintf("%s/net/%s/files/%s.gt.zst", strings.TrimRight(base, "/"), name, net)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	if err := os.MkdirAll(d.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	// Stage in a temp file; path only ever holds a complete record.
	tmp, err := os.CreateTemp(d.CacheDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, dec)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("decompress %s: %w", url, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store %s: %w", path, err)
	}

	d.logger().Info("network cached", "name", name, "net", net, "path", path, "bytes", n)
	return path, nil
}

// Read returns the record as an undirected topology, downloading it on a cache miss.
func (d *Database) Read(ctx context.Context, name, net string) (*world.Topology, error) {
	path := d.FileName(name, net)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if _, err := d.Fetch(ctx, name, net, false); err != nil && !errors.Is(err, ErrCached) {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	topo := g.Topology()
	d.logger().Debug("network loaded", "name", name, "nodes", topo.NumNodes(), "edges", topo.NumEdges())
	return topo, nil
}

func (d *Database) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
