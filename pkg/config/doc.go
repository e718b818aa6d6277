// Package config loads, validates, and expands EdgeForge site declaration
// files. A declaration names one static website; Expand lowers it into the
// resource specs the engine converges, wiring the resources together with
// output references instead of hardcoded ordering.
package config
