package store

import "epubshelf/internal/util"

func newRowID() string {
	return util.NewID()
}
