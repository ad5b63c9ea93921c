package vfs

import (
	"fmt"
	"net/url"
)

// URLScheme is the scheme of external locators: layerfs://<tree>/<path>.
const URLScheme = "layerfs"

// FormatURL maps a node path within a named tree to an external locator.
func FormatURL(tree, p string) string {
	u := url.URL{Scheme: URLScheme, Host: tree, Path: Clean(p)}
	return u.String()
}

// ParseURL maps a locator back to its tree name and node path.
func ParseURL(locator string) (string, string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", NewError(ErrInvalidArgument, locator, "malformed locator: %v", err)
	}
	if u.Scheme != URLScheme {
		return "", "", NewError(ErrInvalidArgument, locator, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", NewError(ErrInvalidArgument, locator, "locator has no tree name")
	}
	return u.Host, Clean(u.Path), nil
}

// String renders the event for logs.
func (e Event) String() string {
	if e.Type == EventRenamed {
		return fmt.Sprintf("%s %s -> %s", e.Type, e.OldPath, e.Path)
	}
	if e.Attribute != "" {
		return fmt.Sprintf("%s %s [%s]", e.Type, e.Path, e.Attribute)
	}
	return fmt.Sprintf("%s %s", e.Type, e.Path)
}
