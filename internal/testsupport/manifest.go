package testsupport

import "fmt"

// ManifestYAML returns a small valid manifest document with the given id and
// number of scenes, each cycling through hook, body, and cta purposes.
func ManifestYAML(id string, scenes int) []byte {
	doc := fmt.Sprintf("id: %s\ntitle: Test production %s\nscenes:\n", id, id)
	purposes := []string{"hook", "body", "cta"}
	for i := 0; i < scenes; i++ {
		doc += fmt.Sprintf(
			"  - id: s%d\n    purpose: %s\n    brief: Scene %d brief\n    duration_seconds: %d\n    required_artifacts:\n      - narration_audio\n",
			i+1, purposes[i%len(purposes)], i+1, 5+i,
		)
	}
	return []byte(doc)
}
