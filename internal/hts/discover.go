package hts

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// DiscoverOptions controls input discovery.
type DiscoverOptions struct {
	Recursive bool
	// Pattern is a doublestar glob matched against paths relative to each
	// root directory. Empty matches every regular file.
	Pattern string
}

// Discover expands roots into input files. Plain files are taken as given;
// directory contents are listed in sorted order, recursively if requested.
func Discover(ctx context.Context, roots []string, opts DiscoverOptions) ([]string, error) {
	if opts.Pattern != "" && !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("%w: invalid glob %q", ErrFormat, opts.Pattern)
	}

	var files []string
	for _, root := range roots {
		if root == "-" {
			files = append(files, root)
			continue
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		var (
			mu    sync.Mutex
			found []string
		)
		conf := fastwalk.Config{Follow: false}
		err = fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != root && !opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if opts.Pattern != "" {
				rel, err := filepath.Rel(root, p)
				if err != nil {
					return nil
				}
				if ok, _ := doublestar.Match(opts.Pattern, filepath.ToSlash(rel)); !ok {
					return nil
				}
			}
			mu.Lock()
			found = append(found, p)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", root, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// LoadReadList reads one read id per line. Tabular files contribute their
// first column and a "read_id" header is skipped.
func LoadReadList(path string) (map[string]struct{}, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	ids := make(map[string]struct{})
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexAny(line, "\t,"); i >= 0 {
			line = line[:i]
		}
		if line == "read_id" {
			continue
		}
		ids[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read list %s: %w", path, err)
	}
	return ids, nil
}
