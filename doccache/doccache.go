// Package doccache evaluates XPath expressions against HTML page sources.
// Parsed documents are kept in a bounded LRU cache keyed by the raw HTML, so
// that running several expressions against the same page parses it once.
package doccache

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"
)

// DefaultSize is the number of documents kept when no size is given.
const DefaultSize = 50

// Cache maps HTML sources to parsed documents. It is safe for concurrent use.
type Cache struct {
	docs *lru.Cache[string, *html.Node]
}

// New returns a cache holding up to size documents. A size of zero or less
// means DefaultSize.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	docs, err := lru.New[string, *html.Node](size)
	if err != nil {
		return nil, err
	}
	return &Cache{docs: docs}, nil
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	return c.docs.Len()
}

// Document returns the parsed form of src, parsing it on a cache miss.
func (c *Cache) Document(src string) (*html.Node, error) {
	if doc, ok := c.docs.Get(src); ok {
		return doc, nil
	}
	doc, err := htmlquery.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	if evicted := c.docs.Add(src, doc); evicted {
		glog.V(2).Infof("doccache: evicted least recently used document")
	}
	return doc, nil
}

// IllegalXPathError reports an expression that does not compile.
type IllegalXPathError struct {
	Expr string
	Err  error
}

func (e *IllegalXPathError) Error() string {
	return fmt.Sprintf("illegal XPath: %s: %v", e.Expr, e.Err)
}

func (e *IllegalXPathError) Unwrap() error {
	return e.Err
}

func compile(expr string) (*xpath.Expr, error) {
	// Compiled expressions keep iteration state, so they are not shared.
	x, err := xpath.Compile(expr)
	if err != nil {
		return nil, &IllegalXPathError{Expr: expr, Err: err}
	}
	return x, nil
}

// Eval returns the nodes of src selected by expr.
func (c *Cache) Eval(expr, src string) ([]*html.Node, error) {
	x, err := compile(expr)
	if err != nil {
		return nil, err
	}
	doc, err := c.Document(src)
	if err != nil {
		return nil, err
	}
	return htmlquery.QuerySelectorAll(doc, x), nil
}

// EvalString evaluates expr against src and converts the result to a string
// the way the XPath string() function does: a node set yields the text of its
// first node, or "" if it is empty.
func (c *Cache) EvalString(expr, src string) (string, error) {
	x, err := compile(expr)
	if err != nil {
		return "", err
	}
	doc, err := c.Document(src)
	if err != nil {
		return "", err
	}

	switch v := x.Evaluate(htmlquery.CreateXPathNavigator(doc)).(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return formatNumber(v), nil
	case *xpath.NodeIterator:
		if v.MoveNext() {
			return v.Current().Value(), nil
		}
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
