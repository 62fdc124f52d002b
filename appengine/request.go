package appengine

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// UserAgent returns the default User-Agent, including the VCS revision when
// the binary carries build info.
func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "go-aeauth/" + Version + " (" + gitSHA + ")"
}

// ReadBody reads and closes resp.Body.
func ReadBody(resp *http.Response) (string, error) {
	if resp == nil || resp.Body == nil {
		return "", &Error{Op: OpReadBody, Kind: KindUnknown, Err: errors.New("no response body")}
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		var u string
		if resp.Request != nil {
			u = resp.Request.URL.Redacted()
		}
		return "", &Error{Op: OpReadBody, Kind: KindUnknown, URL: u, Err: err}
	}
	return string(buf), nil
}
