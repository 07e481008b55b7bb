package extractor

import (
	"crypto/md5"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	goeval "github.com/edisonguo/govaluate"

	"github.com/nci/rastex/processor"
)

func GetPosixInfo(filePath string, fStat os.FileInfo) *PosixInfo {
	stat := fStat.Sys().(*syscall.Stat_t)
	fileSignature := fmt.Sprintf("%s%d%d%d%d", filePath, stat.Ino, stat.Size, stat.Mtim.Sec, stat.Mtim.Nsec)
	return &PosixInfo{
		FilePath: filePath,
		INode:    stat.Ino,
		Size:     stat.Size,
		MTime:    time.Unix(int64(stat.Mtim.Sec), int64(stat.Mtim.Nsec)).UTC(),
		CTime:    time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec)).UTC(),
		ID:       fmt.Sprintf("%x", md5.Sum([]byte(fileSignature))),
	}
}

// filterTimeFormat is fixed width, so timestamps in it order as text.
const filterTimeFormat = "2006-01-02T15:04:05.000Z"

// SliceFilter selects catalog slices with an expression over the
// variables path, id, start and end, e.g.
// "path =~ 'tmean_' && start >= '2020-01-01'". start and end are UTC
// timestamps in filterTimeFormat. Date literals are rewritten to the same
// form, taking literals without a zone as UTC.
type SliceFilter struct {
	expr *goeval.EvaluableExpression
}

func ParseSliceFilter(pattern string) (*SliceFilter, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": {}, "id": {}, "start": {}, "end": {}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, id, start and end", varName)
			}
		}
	}

	tokens := make([]goeval.ExpressionToken, len(expr.Tokens()))
	copy(tokens, expr.Tokens())
	rewritten := false
	for i, token := range tokens {
		if token.Kind != goeval.TIME {
			continue
		}
		t, ok := token.Value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("time token '%v' failed to cast time", token.Value)
		}
		tokens[i] = goeval.ExpressionToken{Kind: goeval.STRING, Value: filterTime(t)}
		rewritten = true
	}
	if rewritten {
		if expr, err = goeval.NewEvaluableExpressionFromTokens(tokens); err != nil {
			return nil, err
		}
	}
	return &SliceFilter{expr: expr}, nil
}

func filterTime(t time.Time) string {
	if t.Location() == time.Local {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	return t.UTC().Format(filterTimeFormat)
}

// Match reports whether e passes the filter. A nil filter passes every
// slice.
func (f *SliceFilter) Match(e processor.SliceCatalogEntry) (bool, error) {
	if f == nil {
		return true, nil
	}

	parameters := map[string]interface{}{
		"path":  e.FileRef,
		"id":    e.SliceID,
		"start": e.Start.UTC().Format(filterTimeFormat),
		"end":   e.End.UTC().Format(filterTimeFormat),
	}
	result, err := f.expr.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("filter expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter expression: result '%v' is not boolean", result)
	}
	return val, nil
}

// StatSlices fills in the file information of every slice, at most conc
// files at a time. It returns the number of slices whose file is missing.
func StatSlices(slices []*SliceInfo, conc int) int {
	cLimiter := processor.NewConcLimiter(conc)
	var mu sync.Mutex
	missing := 0

	for _, s := range slices {
		cLimiter.Increase()
		go func(s *SliceInfo) {
			defer cLimiter.Decrease()
			fStat, err := os.Stat(s.FileRef)
			if err != nil {
				s.Error = err.Error()
				mu.Lock()
				missing++
				mu.Unlock()
				return
			}
			s.File = GetPosixInfo(s.FileRef, fStat)
		}(s)
	}
	cLimiter.Wait()
	return missing
}
