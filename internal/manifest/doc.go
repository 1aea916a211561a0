// Package manifest defines the declarative production request: an ordered
// list of scenes, each naming the media artifacts it needs. Manifests arrive
// as YAML files via the CLI or as JSON via the daemon API and are validated
// before decomposition into jobs.
package manifest
