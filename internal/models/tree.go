package models

// TocNode is one heading in a document's table of contents.
type TocNode struct {
	Title    string     `json:"title"`
	Level    int        `json:"level"`
	Children []*TocNode `json:"children,omitempty"`
}

// Tag is a node of a project's domain tree. Labels are not unique across the tree.
type Tag struct {
	Label    string `json:"label"`
	Children []*Tag `json:"children,omitempty"`
}

// CountTags returns the number of nodes in the forest.
func CountTags(forest []*Tag) int {
	n := 0
	for _, t := range forest {
		if t == nil {
			continue
		}
		n += 1 + CountTags(t.Children)
	}
	return n
}
