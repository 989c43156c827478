package models

// DatabaseInfo is the sidecar published next to the database file.
type DatabaseInfo struct {
	Size   int64    `json:"size"`
	Tables []string `json:"tables"`
}

// HasTable reports whether name is listed in the sidecar.
func (i DatabaseInfo) HasTable(name string) bool {
	for _, t := range i.Tables {
		if t == name {
			return true
		}
	}
	return false
}
