package orchestrator

import "regexp"

// fileBlockPattern matches a fenced code block whose first line inside
// the fence is `// filepath: <path>`, per spec.md §4.1/§6's file-block
// protocol. The remaining block body is the file content; any text
// outside such blocks is ignored for materialization.
var fileBlockPattern = regexp.MustCompile("(?s)```[^\n]*\n// filepath: (.+?)\n(.*?)```")

// extractedFile is one file parsed out of a builder/fixer's text output.
type extractedFile struct {
	Path    string
	Content string
}

// extractFiles scans text for fenced file blocks and returns them in the
// order they appear.
func extractFiles(text string) []extractedFile {
	matches := fileBlockPattern.FindAllStringSubmatch(text, -1)
	files := make([]extractedFile, 0, len(matches))
	for _, m := range matches {
		files = append(files, extractedFile{Path: m[1], Content: m[2]})
	}
	return files
}
