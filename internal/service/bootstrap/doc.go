// Package bootstrap runs the download, unpack, install and probe pipeline.
//
// Fetch and unpack are gates: when either fails the run stops early. An
// install failure is logged as a warning and the probe still runs. The
// completion banner is printed whenever the run gets past both gates,
// whatever install and probe reported; the Report has the real outcome.
package bootstrap
