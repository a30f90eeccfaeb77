package models

type FileMetas map[string]FileMeta

// TotalSize sums the declared sizes of every file in the set.
func (fm FileMetas) TotalSize() int64 {
	var total int64
	for _, meta := range fm {
		total += meta.Size
	}
	return total
}

type PreUploadReq struct {
	Info  *DeviceInfo `json:"info"`
	Files FileMetas   `json:"files"`
}

type FileTokens map[string]string

type PreUploadResp struct {
	SessionId string     `json:"sessionId"`
	Tokens    FileTokens `json:"files"`
}
