//go:build !unix

package obslog

import (
	"errors"
	"io"
)

func newSyslogWriter() (io.Writer, error) {
	return nil, errors.New("obslog: syslog output is not supported on this platform")
}
