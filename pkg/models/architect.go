package models

type Architect struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Kana        string     `json:"kana,omitempty"`
	NameEn      string     `json:"name_en,omitempty"`
	BirthYear   *int       `json:"birth_year,omitempty"`
	DeathYear   *int       `json:"death_year,omitempty"`
	Birthplace  string     `json:"birthplace,omitempty"`
	Nationality string     `json:"nationality,omitempty"`
	Category    string     `json:"category,omitempty"`
	School      string     `json:"school,omitempty"`
	Office      string     `json:"office,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	MainWorks   string     `json:"main_works,omitempty"`
	Awards      string     `json:"awards,omitempty"`
	Image       string     `json:"image,omitempty"`
	Works       []Building `json:"works,omitempty"`
}
