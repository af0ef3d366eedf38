package api

import (
	_ "embed"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// openAPIHandler serves the embedded API description as JSON.
func openAPIHandler(log zerolog.Logger) http.HandlerFunc {
	var (
		once sync.Once
		doc  map[string]any
		err  error
	)
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { err = yaml.Unmarshal(openAPIDocument, &doc) })
		if err != nil {
			internalError(w, r, log, err, "Failed to load API specification")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}
