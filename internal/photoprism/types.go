package photoprism

import (
	"path"
	"time"
)

// Album represents a PhotoPrism album
type Album struct {
	UID        string `json:"UID"`
	Title      string `json:"Title"`
	Type       string `json:"Type"`
	PhotoCount int    `json:"PhotoCount"`
}

// Photo represents a PhotoPrism photo search result
type Photo struct {
	UID          string    `json:"UID"`
	Title        string    `json:"Title"`
	TakenAt      time.Time `json:"TakenAt"`
	Type         string    `json:"Type"`
	Lat          float64   `json:"Lat"`
	Lng          float64   `json:"Lng"`
	Hash         string    `json:"Hash"` // SHA1 of the primary file
	Width        int       `json:"Width"`
	Height       int       `json:"Height"`
	OriginalName string    `json:"OriginalName"` // Original filename when uploaded
	FileName     string    `json:"FileName"`     // Current filename
	Name         string    `json:"Name"`         // Internal name
	Path         string    `json:"Path"`         // File path
	FileSize     int64     `json:"FileSize"`
}

// DisplayName is the name a user would recognize the photo by.
func (p Photo) DisplayName() string {
	switch {
	case p.OriginalName != "":
		return path.Base(p.OriginalName)
	case p.FileName != "":
		return path.Base(p.FileName)
	}
	return p.Name
}
