package proxy

import (
	"log"
	"strings"

	"github.com/golang/glog"
)

// glogWriter forwards messages of libraries that take a *log.Logger to glog.
type glogWriter struct{ prefix string }

func (w glogWriter) Write(p []byte) (int, error) {
	glog.WarningDepth(3, w.prefix+strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func newLogger(prefix string) *log.Logger {
	return log.New(glogWriter{prefix}, "", 0)
}
