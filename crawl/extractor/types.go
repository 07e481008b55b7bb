package extractor

import (
	"time"

	"github.com/nci/rastex/processor"
)

type PosixInfo struct {
	FilePath string    `json:"file_path"`
	INode    uint64    `json:"inode"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	CTime    time.Time `json:"ctime"`
	ID       string    `json:"id"`
}

// SliceInfo is one catalog slice. File is set when slice files were
// inspected; Error holds the reason a file could not be.
type SliceInfo struct {
	SliceID string     `json:"slice_id"`
	Start   time.Time  `json:"start"`
	End     time.Time  `json:"end"`
	Period  string     `json:"period"`
	FileRef string     `json:"file_ref"`
	File    *PosixInfo `json:"file,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// DatasetReport describes a dataset along with the slices behind it.
//
// Slices shadows the slice count of DatasetInfo, which stays reachable as
// DatasetInfo.Slices.
type DatasetReport struct {
	processor.DatasetInfo
	Title        string              `json:"title,omitempty"`
	GeoTransform []float64           `json:"geotransform"`
	Members      map[string][]string `json:"members,omitempty"`
	Slices       []*SliceInfo        `json:"slice_list,omitempty"`
	Missing      int                 `json:"missing_files"`
}
