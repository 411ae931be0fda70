package coordination

import "strings"

// Join builds a node path from a parent and a child name.
func Join(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}
	return strings.TrimRight(parent, "/") + "/" + child
}

// Parent returns the parent of path, "/" for top level nodes.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// Base returns the last segment of path.
func Base(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// Ancestors returns path and every ancestor below the root, outermost first.
// "/soa/master/services" yields "/soa", "/soa/master", "/soa/master/services".
func Ancestors(path string) []string {
	var out []string
	route := ""
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		route += "/" + seg
		out = append(out, route)
	}
	return out
}
