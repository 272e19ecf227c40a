package enrich

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `{
  "fullName": "Jane Doe",
  "firstName": "Jane",
  "lastName": "Doe",
  "headline": "Founder",
  "publicIdentifier": "jane-doe",
  "linkedinUrl": "https://www.linkedin.com/in/jane-doe",
  "connections": 500,
  "followers": "1200",
  "jobTitle": "CEO",
  "companyName": "Acme",
  "companyFoundedIn": "2015",
  "companySize": 51,
  "currentJobDurationInYrs": "3.5",
  "addressWithCountry": "Austin, Texas, United States",
  "profilePic": "https://img/p.jpg",
  "topSkillsByEndorsements": ["Go", "SQL"],
  "experiences": [{"title": "CEO"}]
}`

func TestProfile_UnmarshalJSON(t *testing.T) {
	var p Profile
	require.NoError(t, json.Unmarshal([]byte(sampleProfile), &p))

	assert.Equal(t, "jane-doe", p.PublicIdentifier)
	assert.Equal(t, "Jane Doe", *p.FullName)
	assert.Equal(t, "Founder", *p.Headline)
	assert.Nil(t, p.About)
	require.NotNil(t, p.Connections)
	assert.Equal(t, 500, *p.Connections)
	require.NotNil(t, p.Followers)
	assert.Equal(t, 1200, *p.Followers)
	require.NotNil(t, p.CompanyFoundedIn)
	assert.Equal(t, 2015, *p.CompanyFoundedIn)
	require.NotNil(t, p.CompanySize)
	assert.Equal(t, "51", *p.CompanySize)
	require.NotNil(t, p.CurrentJobDurationYrs)
	assert.InDelta(t, 3.5, *p.CurrentJobDurationYrs, 0.0001)
	assert.Equal(t, "https://img/p.jpg", *p.ProfilePicURL)
	require.NotNil(t, p.TopSkillsByEndorsements)
	assert.JSONEq(t, `["Go","SQL"]`, *p.TopSkillsByEndorsements)
}

func TestProfile_RawKeepsUnknownFields(t *testing.T) {
	var p Profile
	require.NoError(t, json.Unmarshal([]byte(sampleProfile), &p))

	assert.JSONEq(t, sampleProfile, string(p.Raw))

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"experiences"`)
}

func TestProfile_UnparseableNumbersAreNil(t *testing.T) {
	var p Profile
	require.NoError(t, json.Unmarshal([]byte(`{"publicIdentifier":"x","connections":"500+","followers":null,"companyFoundedIn":""}`), &p))
	assert.Nil(t, p.Connections)
	assert.Nil(t, p.Followers)
	assert.Nil(t, p.CompanyFoundedIn)
}

func TestProfile_MarshalEmpty(t *testing.T) {
	out, err := json.Marshal(Profile{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestProfile_DecodeRejectsNonObject(t *testing.T) {
	var p Profile
	assert.Error(t, json.Unmarshal([]byte(`"just a string"`), &p))
}
