package store

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/profile-enrich/internal/enrich"
)

// stateColumns is the linkedin_profiles column order used by both stores.
var stateColumns = []string{
	"luma_guest_api_id",
	"linkedin_handle",
	"record_source",
	"profile_found",
	"profile_fetch_message",
	"full_name",
	"first_name",
	"last_name",
	"headline",
	"about",
	"public_identifier",
	"linkedin_url",
	"connections",
	"followers",
	"job_title",
	"company_name",
	"company_industry",
	"company_website",
	"company_linkedin",
	"company_founded_in",
	"company_size",
	"current_job_duration_yrs",
	"address_with_country",
	"address_country_only",
	"address_without_country",
	"profile_pic_url",
	"profile_pic_high_quality_url",
	"top_skills_by_endorsements",
	"profile_data",
	"retry_count",
	"last_retry_at",
	"next_retry_after",
}

var stateKeys = []string{"luma_guest_api_id", "linkedin_handle"}

// touchColumns are stamped with the write time on every upsert.
var touchColumns = []string{"last_refreshed_at", "_updated_at"}

// stateValues flattens a state in stateColumns order. Profile columns are
// NULL when the state carries no profile.
func stateValues(s enrich.State) []any {
	p := s.Profile
	if p == nil {
		p = &enrich.Profile{}
	}
	var publicID *string
	if p.PublicIdentifier != "" {
		publicID = &p.PublicIdentifier
	}
	var raw any
	if s.Found && len(p.Raw) > 0 {
		raw = json.RawMessage(p.Raw)
	}

	return []any{
		s.SubjectID,
		s.RawHandle,
		s.RecordSource,
		s.Found,
		s.FetchMessage,
		p.FullName,
		p.FirstName,
		p.LastName,
		p.Headline,
		p.About,
		publicID,
		p.LinkedinURL,
		p.Connections,
		p.Followers,
		p.JobTitle,
		p.CompanyName,
		p.CompanyIndustry,
		p.CompanyWebsite,
		p.CompanyLinkedin,
		p.CompanyFoundedIn,
		p.CompanySize,
		p.CurrentJobDurationYrs,
		p.AddressWithCountry,
		p.AddressCountryOnly,
		p.AddressWithoutCountry,
		p.ProfilePicURL,
		p.ProfilePicHighQualURL,
		p.TopSkillsByEndorsements,
		raw,
		s.RetryCount,
		s.LastRetryAt,
		s.NextRetryAfter,
	}
}

// handlePatterns narrows a manual selection in SQL. Matching is exact on the
// normalized handle afterwards; the LIKE patterns only prune.
func handlePatterns(handles []string) []string {
	pats := make([]string, len(handles))
	for i, h := range handles {
		slug := strings.TrimPrefix(h, "/in/")
		pats[i] = "%" + slug + "%"
	}
	return pats
}

// keepHandles drops candidates whose handle does not normalize to one of want.
func keepHandles(cands []enrich.Candidate, want []string) []enrich.Candidate {
	set := make(map[string]bool, len(want))
	for _, h := range want {
		set[h] = true
	}
	out := cands[:0]
	for _, c := range cands {
		if k, err := enrich.NormalizeHandle(c.RawHandle); err == nil && set[k] {
			out = append(out, c)
		}
	}
	return out
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
