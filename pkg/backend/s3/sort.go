package s3

import (
	"sort"

	"github.com/marmos91/layerfs/pkg/vfs"
)

func sortEntries(entries []vfs.Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}
