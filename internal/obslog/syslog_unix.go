//go:build unix

package obslog

import (
	"io"
	"log/syslog"
)

func newSyslogWriter() (io.Writer, error) {
	return syslog.New(syslog.LOG_NOTICE|syslog.LOG_DAEMON, "homeserver")
}
