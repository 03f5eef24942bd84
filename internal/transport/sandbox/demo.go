package sandbox

import _ "embed"

// DisplayScript is the bundled demo display.
//
//go:embed display.js
var DisplayScript string
