// Package gemini implements generation.Provider on Google's Gemini API.
package gemini
