package model

// CategoryColumns is the number of tile columns in a category grid.
const CategoryColumns = 3

// Category is a named listing of apps, e.g. a snapd section or the installed set.
type Category struct {
	Name    string `json:"name"`    // Section name as known to the backend
	Title   string `json:"title"`   // Display title
	Summary string `json:"summary"` // Display summary, may be empty
	Apps    []App  `json:"apps"`    // Apps in backend order
}

// Tile places one app of a category on the grid.
type Tile struct {
	App    App `json:"app"`
	Column int `json:"column"`
	Row    int `json:"row"`
}
