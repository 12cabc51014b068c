package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/rasterchunk/utils"
	"github.com/pkg/errors"
)

const DefaultMaxPosixErrors = 1000

// PosixLister crawls a directory tree concurrently and lists the regular
// files whose extension matches. An optional govaluate expression over
// the variables path, name, ext and type ("f" or "d") further filters
// entries; directories failing it are not descended into.
type PosixLister struct {
	Root          string
	Extension     string
	FollowSymlink bool

	conc    int
	pattern *goeval.EvaluableExpression
}

func NewPosixLister(root, ext, pattern string, conc int, followSymlink bool) (*PosixLister, error) {
	expr, err := parsePatternExpression(pattern)
	if err != nil {
		return nil, err
	}
	return &PosixLister{
		Root:          root,
		Extension:     ext,
		FollowSymlink: followSymlink,
		conc:          conc,
		pattern:       expr,
	}, nil
}

func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing pattern %q", pattern)
	}

	validVariables := map[string]struct{}{"path": {}, "name": {}, "ext": {}, "type": {}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, name, ext, type", varName)
			}
		}
	}
	return expr, nil
}

type posixCrawl struct {
	lister  *PosixLister
	ctx     context.Context
	limiter *utils.ConcLimiter
	wg      sync.WaitGroup

	mu     sync.Mutex
	files  []string
	errors []string
}

// List returns the matching files sorted by path so manifests built from
// the same tree are identical regardless of crawl scheduling.
func (pl *PosixLister) List(ctx context.Context) ([]string, error) {
	root, err := filepath.Abs(pl.Root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		return nil, errors.Wrapf(err, "image folder %s", pl.Root)
	}

	pc := &posixCrawl{lister: pl, ctx: ctx, limiter: utils.NewConcLimiter(pl.conc)}
	pc.wg.Add(1)
	pc.limiter.Increase()
	pc.crawlDir(root, false)
	pc.wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pc.errors) > 0 {
		return nil, fmt.Errorf("crawl %s: %s", root, strings.Join(pc.errors, "\n"))
	}

	sort.Strings(pc.files)
	return pc.files, nil
}

func (pc *posixCrawl) addError(err error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.errors) < DefaultMaxPosixErrors {
		pc.errors = append(pc.errors, err.Error())
	} else if len(pc.errors) == DefaultMaxPosixErrors {
		pc.errors = append(pc.errors, " ... too many errors")
	}
}

func (pc *posixCrawl) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer pc.limiter.Decrease()
	}
	if pc.ctx.Err() != nil {
		return
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.addError(err)
		return
	}

	for _, entry := range entries {
		filePath := filepath.Join(currPath, entry.Name())
		mode := entry.Type()

		if mode&os.ModeSymlink != 0 {
			if !pc.lister.FollowSymlink {
				continue
			}
			fStat, err := os.Stat(filePath)
			if err != nil {
				pc.addError(err)
				continue
			}
			mode = fStat.Mode().Type()
		}

		isDir := mode.IsDir()
		if !isDir && !mode.IsRegular() {
			continue
		}

		if pc.lister.pattern != nil {
			ok, err := pc.lister.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.addError(err)
				continue
			}
			if !ok {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			if pc.limiter.TryIncrease() {
				go pc.crawlDir(filePath, false)
			} else {
				pc.crawlDir(filePath, true)
			}
			continue
		}

		if filepath.Ext(filePath) != pc.lister.Extension {
			continue
		}

		pc.mu.Lock()
		pc.files = append(pc.files, filePath)
		pc.mu.Unlock()
	}
}

func (pl *PosixLister) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{
		"type": fileType,
		"path": filePath,
		"name": filepath.Base(filePath),
		"ext":  filepath.Ext(filePath),
	}
	result, err := pl.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}
