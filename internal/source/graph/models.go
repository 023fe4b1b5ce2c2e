package graph

// Wire models for the Microsoft Graph endpoints the walker consumes.

type Team struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Member struct {
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	UserID      string   `json:"userId"`
	Roles       []string `json:"roles"`
}

// DriveItem is a file or folder in a channel's document library.
// Exactly one of File or Folder is set.
type DriveItem struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	ETag            string           `json:"eTag"`
	Size            int64            `json:"size"`
	File            *FileFacet       `json:"file"`
	Folder          *FolderFacet     `json:"folder"`
	ParentReference *ParentReference `json:"parentReference"`
}

type FileFacet struct {
	MimeType string `json:"mimeType"`
}

type FolderFacet struct {
	ChildCount int `json:"childCount"`
}

type ParentReference struct {
	DriveID string `json:"driveId"`
}
