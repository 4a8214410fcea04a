package graph

import "time"

// ChildCountUnknown indicates the child count was not present in the API response.
const ChildCountUnknown = -1

// RootID addresses the root folder of the signed-in user's drive.
const RootID = "root"

// DefaultPageSize is used when a PageRequest leaves PageSize at zero.
const DefaultPageSize = 10

// Item is a read-only view of a node in the user's drive.
// Fields are normalized from the Graph API response.
type Item struct {
	ID         string
	Name       string
	ParentID   string
	Size       int64
	ETag       string
	CTag       string
	IsFolder   bool
	MimeType   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	ChildCount int // ChildCountUnknown if not present

	// QuickXorHash is the base64 content hash of a file, if the drive
	// reported one.
	QuickXorHash string
}

// PageRequest bounds a single listing call.
type PageRequest struct {
	PageSize int
}

// size returns the effective page size or ErrInvalidPageSize.
func (p PageRequest) size() (int, error) {
	switch {
	case p.PageSize == 0:
		return DefaultPageSize, nil
	case p.PageSize < 0:
		return 0, ErrInvalidPageSize
	default:
		return p.PageSize, nil
	}
}
