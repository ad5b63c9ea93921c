package badger

import "strings"

// Database Key Namespace Design
// ==============================
//
// Attributes and staged moves share one BadgerDB instance, separated by prefix.
//
// Data Type        Prefix   Key Format                      Value Type
// ==========================================================================
// Attribute        "a:"     a:<path>\x00<name>              value (JSON)
// Move Intent      "m:"     m:<intentID>                    attr.Intent (JSON)
//
// Paths are absolute and cleaned, so "a:<path>\x00" selects exactly one node's
// attributes and "a:<path>/" selects all of its descendants. For the root the
// single prefix "a:/" selects the whole tree.

const (
	// prefixAttr is the key prefix for attribute values
	prefixAttr = "a:"

	// prefixMove is the key prefix for staged move intents
	prefixMove = "m:"

	// sep separates the node path from the attribute name
	sep = "\x00"
)

// keyAttr generates the key for one attribute of a node.
//
// Format: "a:<path>\x00<name>"
func keyAttr(p, name string) []byte {
	return []byte(prefixAttr + p + sep + name)
}

// keyNodePrefix selects every attribute of one node.
func keyNodePrefix(p string) []byte {
	return []byte(prefixAttr + p + sep)
}

// keySubtreePrefixes returns the prefixes selecting a node and all descendants.
func keySubtreePrefixes(p string) [][]byte {
	if p == "/" {
		return [][]byte{[]byte(prefixAttr + "/")}
	}
	return [][]byte{keyNodePrefix(p), []byte(prefixAttr + p + "/")}
}

// keyMove generates the key for a staged move intent.
func keyMove(id string) []byte {
	return []byte(prefixMove + id)
}

// splitAttrKey reverses keyAttr.
func splitAttrKey(key []byte) (string, string, bool) {
	rest, ok := strings.CutPrefix(string(key), prefixAttr)
	if !ok {
		return "", "", false
	}
	return strings.Cut(rest, sep)
}
