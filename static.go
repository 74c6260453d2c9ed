package main

import (
	"embed"
	"io/fs"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

//go:embed static
var staticFiles embed.FS

// staticFS serves the embedded UI, or the on-disk static/ directory
// when LIVE_STATIC is set so the UI can be edited without rebuilding.
func staticFS() http.FileSystem {
	if os.Getenv("LIVE_STATIC") != "" {
		return http.FS(os.DirFS("static"))
	}

	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

func registerStaticHandler(e *echo.Echo) {
	e.GET("/", echo.WrapHandler(http.FileServer(staticFS())))
}
