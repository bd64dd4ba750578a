package fetch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/extract"
)

// CaptureExtensions are the file types CaptureFetcher replays.
var CaptureExtensions = []string{".json", ".jsonl", ".ndjson", ".html", ".htm"}

// CaptureFetcher replays raw page payloads saved to disk, one page per file or per
// JSON line. Saved RPC responses are unwrapped like live ones.
type CaptureFetcher struct {
	dir       string
	extractor *extract.Extractor
	logger    *zap.Logger
}

// NewCaptureFetcher returns a fetcher reading captures under dir.
func NewCaptureFetcher(dir string, extractor *extract.Extractor, opts ...Option) *CaptureFetcher {
	o := buildOptions(opts)
	return &CaptureFetcher{dir: dir, extractor: extractor, logger: o.logger}
}

// Fetch replays captures. Request.Endpoint selects a file or subdirectory (relative
// to the capture directory unless absolute); empty means the whole directory. Pages
// without items are skipped rather than ending the run. State.Page counts consumed
// pages, so a resumed run skips what it already replayed.
func (c *CaptureFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	root := c.dir
	if ep := strings.TrimSpace(req.Endpoint); ep != "" {
		if filepath.IsAbs(ep) {
			root = ep
		} else {
			root = filepath.Join(c.dir, ep)
		}
	}
	if root == "" {
		return nil, fmt.Errorf("%w: no capture directory configured", ErrMalformedEndpoint)
	}
	files, err := captureFiles(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}

	st := req.State
	if st == nil {
		st = &State{}
	}
	maxPages := req.MaxPages
	res := &Result{State: st, Source: root}
	skip := st.Page
	seen := 0

	c.logger.Info("capture replay started", zap.String("root", root), zap.Int("files", len(files)), zap.Int("skip_pages", skip))

	for _, path := range files {
		pages, err := c.readPages(path)
		if err != nil {
			c.logger.Warn("skipping unreadable capture", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, items := range pages {
			if err := ctx.Err(); err != nil {
				res.Stop = StopCanceled
				return res, nil
			}
			seen++
			if seen <= skip {
				continue
			}
			if maxPages > 0 && res.Pages >= maxPages {
				res.Stop = StopMaxPages
				return res, nil
			}
			st.Advance(len(items), "")
			if len(items) == 0 {
				continue
			}
			res.Items = append(res.Items, items...)
			res.Pages++
			if req.OnPage != nil {
				page := Page{Number: res.Pages, Items: items, Via: "capture", State: *st}
				if err := req.OnPage(ctx, page); err != nil {
					return res, fmt.Errorf("capture %s: %w", filepath.Base(path), err)
				}
			}
		}
	}

	res.Stop = StopNoData
	st.Finish()
	c.logger.Info("capture replay finished", zap.Int("pages", res.Pages), zap.Int("items", len(res.Items)))
	return res, nil
}

// readPages splits one capture file into pages of raw items.
func (c *CaptureFetcher) readPages(path string) ([][]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return [][]interface{}{c.extractor.HTMLItems(content)}, nil
	case ".jsonl", ".ndjson":
		var pages [][]interface{}
		sc := bufio.NewScanner(bytes.NewReader(content))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			payload, err := extract.DecodeJSON(line)
			if err != nil {
				pages = append(pages, nil)
				continue
			}
			pages = append(pages, c.extractor.Items(extract.UnwrapRPC(payload)))
		}
		return pages, sc.Err()
	default:
		payload, err := extract.DecodeJSON(content)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		return [][]interface{}{c.extractor.Items(extract.UnwrapRPC(payload))}, nil
	}
}

// IsCapture reports whether path has a replayable extension.
func IsCapture(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range CaptureExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// captureFiles lists replayable files under root in lexical order. root may be a single file.
func captureFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsCapture(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
