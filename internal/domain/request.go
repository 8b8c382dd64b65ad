package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Calendar selects how the birth date is interpreted.
type Calendar string

// Supported calendars.
const (
	CalendarSolar Calendar = "solar"
	CalendarLunar Calendar = "lunar"
)

// Supported genders.
const (
	GenderMale   = "男"
	GenderFemale = "女"
)

var validate = validator.New()

// BirthRequest is the caller-supplied analysis request before defaults are
// applied.
type BirthRequest struct {
	Date          string   `json:"date"           validate:"required,datetime=2006-01-02"`
	Timezone      int      `json:"timezone"       validate:"gte=0,lte=12"`
	Gender        string   `json:"gender"         validate:"required,oneof=男 女"`
	Calendar      Calendar `json:"calendar"       validate:"required,oneof=solar lunar"`
	Provider      string   `json:"provider,omitempty"       validate:"omitempty,max=64"`
	Model         string   `json:"model,omitempty"          validate:"omitempty,max=128"`
	PromptVersion string   `json:"prompt_version,omitempty" validate:"omitempty,max=32"`
}

// RequestSnapshot is the normalized birth data captured on a task and copied
// onto its result. It never changes after the task is created.
type RequestSnapshot struct {
	Date     string   `json:"date"`
	Timezone int      `json:"timezone"`
	Gender   string   `json:"gender"`
	Calendar Calendar `json:"calendar"`
}

// Backend identifies which provider, model and prompt version produce a result.
type Backend struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	PromptVersion string `json:"prompt_version"`
}

// Defaults fills in backend fields omitted from a request.
type Defaults struct {
	Provider      string
	Model         string
	PromptVersion string
	// ProviderModels maps a provider name to the model used when a request
	// names the provider but not the model.
	ProviderModels map[string]string
}

// NormalizedRequest is a validated request with defaults applied and its
// fingerprint computed.
type NormalizedRequest struct {
	Snapshot    RequestSnapshot
	Backend     Backend
	Fingerprint string
}

// Normalize trims and validates the request, resolves backend defaults and
// computes the fingerprint.
func (r BirthRequest) Normalize(d Defaults) (NormalizedRequest, error) {
	r.Date = strings.TrimSpace(r.Date)
	r.Gender = strings.TrimSpace(r.Gender)
	r.Calendar = Calendar(strings.ToLower(strings.TrimSpace(string(r.Calendar))))
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	r.Model = strings.TrimSpace(r.Model)
	r.PromptVersion = strings.TrimSpace(r.PromptVersion)

	if err := validate.Struct(r); err != nil {
		return NormalizedRequest{}, ValidationError(CodeInvalidRequest, "invalid analysis request", err)
	}

	backend := Backend{
		Provider:      r.Provider,
		Model:         r.Model,
		PromptVersion: r.PromptVersion,
	}
	if backend.Provider == "" {
		backend.Provider = d.Provider
	}
	if backend.Model == "" {
		if m := d.ProviderModels[backend.Provider]; m != "" {
			backend.Model = m
		} else {
			backend.Model = d.Model
		}
	}
	if backend.PromptVersion == "" {
		backend.PromptVersion = d.PromptVersion
	}

	snapshot := RequestSnapshot{
		Date:     r.Date,
		Timezone: r.Timezone,
		Gender:   r.Gender,
		Calendar: r.Calendar,
	}

	return NormalizedRequest{
		Snapshot:    snapshot,
		Backend:     backend,
		Fingerprint: Fingerprint(snapshot, backend),
	}, nil
}

// Fingerprint returns the hex SHA-256 of the seven identifying fields joined
// with "|" in a fixed order. It is the dedup key for tasks and results.
func Fingerprint(s RequestSnapshot, b Backend) string {
	raw := strings.Join([]string{
		s.Date,
		strconv.Itoa(s.Timezone),
		s.Gender,
		string(s.Calendar),
		b.Provider,
		b.Model,
		b.PromptVersion,
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
