package api

import "github.com/samcharles93/shaderdump/internal/groupcache"

type SlotSummary struct {
	Slot       string           `json:"slot"`
	Loaded     bool             `json:"loaded"`
	Version    uint16           `json:"version,omitempty"`
	Size       int              `json:"size"`
	LoadID     string           `json:"load_id,omitempty"`
	Generation uint64           `json:"generation,omitempty"`
	Mmapped    bool             `json:"mmapped,omitempty"`
	Cache      groupcache.Stats `json:"cache"`
}

type SlotList struct {
	Object string        `json:"object"`
	Data   []SlotSummary `json:"data"`
}

type SectionInfo struct {
	Type    string `json:"type"`
	Version uint32 `json:"version"`
	Offset  uint64 `json:"offset"`
	Size    uint64 `json:"size"`
}

type SlotDetail struct {
	SlotSummary

	Sections     []SectionInfo `json:"sections"`
	Classes      []string      `json:"classes"`
	Codes        int           `json:"codes"`
	Vars         int           `json:"vars"`
	Intervals    int           `json:"intervals"`
	Blocks       int           `json:"blocks"`
	VertexCount  int           `json:"vertex_programs"`
	PixelCount   int           `json:"pixel_programs"`
	Groups       int           `json:"groups,omitempty"`
	CachedGroups []uint16      `json:"cached_groups,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
