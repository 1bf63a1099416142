// Package configs provides the embedded configuration template written by
// `mediamind init`. Embedding at build time keeps the annotated template
// available in every distribution, source builds included.
package configs

import _ "embed"

// ConfigTemplate is the annotated starter configuration. `mediamind init`
// writes it verbatim, substituting any scan roots given on the command line.
//
//go:embed config.example.yaml
var ConfigTemplate string
