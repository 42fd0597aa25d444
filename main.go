package main

import (
	"net/http"

	"github.com/cratefarm/cratefarm/cmd"
	"github.com/cratefarm/cratefarm/internals/ownhttp"
)

// set by goreleaser
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// replace default http client
	http.DefaultClient = ownhttp.New()

	cmd.Version = version
	cmd.Commit = commit
	cmd.Execute()
}
