package enrich

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// RecordSource tags every state row written by this package.
const RecordSource = "apify"

// MissingProfileMessage is stored on rows whose lookup came back empty.
const MissingProfileMessage = "Profile not returned by Apify API"

// Candidate is a guest selected for a lookup attempt.
type Candidate struct {
	SubjectID   string
	DisplayName string
	RawHandle   string
	RetryCount  int
}

// Profile is one scraped LinkedIn profile. Known fields are decoded into
// typed members; Raw keeps the payload verbatim, unknown fields included.
type Profile struct {
	FullName                *string
	FirstName               *string
	LastName                *string
	Headline                *string
	About                   *string
	PublicIdentifier        string
	LinkedinURL             *string
	Connections             *int
	Followers               *int
	JobTitle                *string
	CompanyName             *string
	CompanyIndustry         *string
	CompanyWebsite          *string
	CompanyLinkedin         *string
	CompanyFoundedIn        *int
	CompanySize             *string
	CurrentJobDurationYrs   *float64
	AddressWithCountry      *string
	AddressCountryOnly      *string
	AddressWithoutCountry   *string
	ProfilePicURL           *string
	ProfilePicHighQualURL   *string
	TopSkillsByEndorsements *string

	Raw json.RawMessage
}

type profileWire struct {
	FullName                *string         `json:"fullName"`
	FirstName               *string         `json:"firstName"`
	LastName                *string         `json:"lastName"`
	Headline                *string         `json:"headline"`
	About                   *string         `json:"about"`
	PublicIdentifier        *string         `json:"publicIdentifier"`
	LinkedinURL             *string         `json:"linkedinUrl"`
	Connections             json.RawMessage `json:"connections"`
	Followers               json.RawMessage `json:"followers"`
	JobTitle                *string         `json:"jobTitle"`
	CompanyName             *string         `json:"companyName"`
	CompanyIndustry         *string         `json:"companyIndustry"`
	CompanyWebsite          *string         `json:"companyWebsite"`
	CompanyLinkedin         *string         `json:"companyLinkedin"`
	CompanyFoundedIn        json.RawMessage `json:"companyFoundedIn"`
	CompanySize             json.RawMessage `json:"companySize"`
	CurrentJobDurationInYrs json.RawMessage `json:"currentJobDurationInYrs"`
	AddressWithCountry      *string         `json:"addressWithCountry"`
	AddressCountryOnly      *string         `json:"addressCountryOnly"`
	AddressWithoutCountry   *string         `json:"addressWithoutCountry"`
	ProfilePic              *string         `json:"profilePic"`
	ProfilePicHighQuality   *string         `json:"profilePicHighQuality"`
	TopSkillsByEndorsements json.RawMessage `json:"topSkillsByEndorsements"`
}

// UnmarshalJSON decodes the scraper's camelCase payload. Numeric fields are
// accepted as JSON numbers or numeric strings; anything else leaves them nil.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var w profileWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*p = Profile{
		FullName:                w.FullName,
		FirstName:               w.FirstName,
		LastName:                w.LastName,
		Headline:                w.Headline,
		About:                   w.About,
		LinkedinURL:             w.LinkedinURL,
		Connections:             flexInt(w.Connections),
		Followers:               flexInt(w.Followers),
		JobTitle:                w.JobTitle,
		CompanyName:             w.CompanyName,
		CompanyIndustry:         w.CompanyIndustry,
		CompanyWebsite:          w.CompanyWebsite,
		CompanyLinkedin:         w.CompanyLinkedin,
		CompanyFoundedIn:        flexInt(w.CompanyFoundedIn),
		CompanySize:             flexString(w.CompanySize),
		CurrentJobDurationYrs:   flexFloat(w.CurrentJobDurationInYrs),
		AddressWithCountry:      w.AddressWithCountry,
		AddressCountryOnly:      w.AddressCountryOnly,
		AddressWithoutCountry:   w.AddressWithoutCountry,
		ProfilePicURL:           w.ProfilePic,
		ProfilePicHighQualURL:   w.ProfilePicHighQuality,
		TopSkillsByEndorsements: flexString(w.TopSkillsByEndorsements),
		Raw:                     append(json.RawMessage(nil), data...),
	}
	if w.PublicIdentifier != nil {
		p.PublicIdentifier = *w.PublicIdentifier
	}
	return nil
}

// MarshalJSON returns the verbatim payload when present.
func (p Profile) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return []byte("null"), nil
}

func flexScalar(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), s != ""
	}
	return string(raw), true
}

func flexInt(raw json.RawMessage) *int {
	s, ok := flexScalar(raw)
	if !ok {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		n := int(f)
		return &n
	}
	return nil
}

func flexFloat(raw json.RawMessage) *float64 {
	s, ok := flexScalar(raw)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// flexString keeps strings as-is and renders any other JSON value as text,
// so arrays or numbers in text columns are not lost.
func flexString(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	s = string(raw)
	return &s
}

// State is the persisted enrichment row for one (subject, raw handle) pair.
type State struct {
	SubjectID    string
	RawHandle    string
	RecordSource string
	Found        bool
	FetchMessage *string

	Profile *Profile

	RetryCount     int
	LastRetryAt    *time.Time
	NextRetryAfter *time.Time
}

// Match pairs a candidate with the profile the lookup returned for it.
type Match struct {
	Candidate Candidate
	Profile   Profile
}

// Phase is where a state row sits in the retry state machine.
type Phase string

const (
	PhaseUnattempted Phase = "unattempted"
	PhaseFound       Phase = "found"
	PhaseBackingOff  Phase = "backing_off"
	PhaseDue         Phase = "due"
	PhaseExhausted   Phase = "exhausted"
)

// Phases lists every phase in display order.
var Phases = []Phase{PhaseUnattempted, PhaseFound, PhaseBackingOff, PhaseDue, PhaseExhausted}

// RunStatus is the lifecycle status of one enrichment run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// Summary reports the outcome of one run.
type Summary struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	Mode       string     `json:"mode" yaml:"mode"`
	Attempted  int        `json:"attempted" yaml:"attempted"`
	Resolved   int        `json:"resolved" yaml:"resolved"`
	Unresolved int        `json:"unresolved" yaml:"unresolved"`
	New        int        `json:"new" yaml:"new"`
	Retries    int        `json:"retries" yaml:"retries"`
	Skipped    int        `json:"skipped" yaml:"skipped"`
	Written    int64      `json:"written" yaml:"written"`
	Status     RunStatus  `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration   string     `json:"duration,omitempty" yaml:"duration,omitempty"`
}
