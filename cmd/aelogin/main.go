// Command aelogin signs in to an App Engine application and makes
// authenticated requests with the resulting session cookie.
package main

import (
	"os"

	"github.com/agentuity/go-aeauth/logger"
	"github.com/cockroachdb/errors"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			logger.NewConsoleLogger().Error("%s", err)
		}
		os.Exit(1)
	}
}
