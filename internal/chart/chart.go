// Package chart talks to the external chart computation service and renders
// its astrolabe into the text description fed to every analysis prompt.
package chart

import "encoding/json"

// Astrolabe is the chart returned by the chart service. Only the fields used
// in the text description are decoded.
type Astrolabe struct {
	Gender                    string          `json:"gender"`
	SolarDate                 string          `json:"solarDate"`
	LunarDate                 string          `json:"lunarDate"`
	ChineseDate               string          `json:"chineseDate"`
	Time                      string          `json:"time"`
	TimeRange                 string          `json:"timeRange"`
	Sign                      string          `json:"sign"`
	Zodiac                    string          `json:"zodiac"`
	EarthlyBranchOfBodyPalace string          `json:"earthlyBranchOfBodyPalace"`
	EarthlyBranchOfSoulPalace string          `json:"earthlyBranchOfSoulPalace"`
	Soul                      string          `json:"soul"`
	Body                      string          `json:"body"`
	FiveElementsClass         string          `json:"fiveElementsClass"`
	Palaces                   json.RawMessage `json:"palaces"`
}

// Palace is one of the twelve palaces of a chart.
type Palace struct {
	Index            int      `json:"index"`
	Name             string   `json:"name"`
	IsBodyPalace     bool     `json:"isBodyPalace"`
	IsOriginalPalace bool     `json:"isOriginalPalace"`
	HeavenlyStem     string   `json:"heavenlyStem"`
	EarthlyBranch    string   `json:"earthlyBranch"`
	MajorStars       []Star   `json:"majorStars"`
	MinorStars       []Star   `json:"minorStars"`
	AdjectiveStars   []Star   `json:"adjectiveStars"`
	Changsheng12     string   `json:"changsheng12"`
	Boshi12          string   `json:"boshi12"`
	Jiangqian12      string   `json:"jiangqian12"`
	Suiqian12        string   `json:"suiqian12"`
	Decadal          *Decadal `json:"decadal"`
	Ages             []int    `json:"ages"`
}

// Star is a star placed in a palace.
type Star struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Scope      string `json:"scope"`
	Brightness string `json:"brightness"`
	Mutagen    string `json:"mutagen"`
}

// Decadal is the ten-year period governed by a palace.
type Decadal struct {
	Range         []int  `json:"range"`
	HeavenlyStem  string `json:"heavenlyStem"`
	EarthlyBranch string `json:"earthlyBranch"`
}

// palaces decodes the palace list. ok is false when the field is missing or
// not a list of palaces.
func (a *Astrolabe) palaces() ([]Palace, bool) {
	if len(a.Palaces) == 0 || string(a.Palaces) == "null" {
		return nil, false
	}
	var ps []Palace
	if err := json.Unmarshal(a.Palaces, &ps); err != nil {
		return nil, false
	}
	return ps, true
}
