package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
clinical_courses:
  - subject: vet
    number: '^4\d\d[A-Z]?$'
research_number: '^\d{3}R$'
clinical_priority: ["VET 420", "vet  410"]
guest_title_code: GUEST
guest_accounts:
  - department: VME
    person_key: VMEGUEST
`

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(testPolicy))
	require.NoError(t, err)

	assert.True(t, p.IsClinicalCourse("VET", "410"))
	assert.True(t, p.IsClinicalCourse(" vet ", "412a"))
	assert.False(t, p.IsClinicalCourse("VET", "310"))
	assert.False(t, p.IsClinicalCourse("VME", "410"))

	assert.True(t, p.IsResearchCourse("299r"))
	assert.False(t, p.IsResearchCourse("299"))

	require.Len(t, p.GuestAccounts, 1)
}

func TestParsePolicy_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":           "clinical_courses: [",
		"missing research":   "guest_title_code: GUEST\n",
		"bad regexp":         "research_number: '('\nguest_title_code: GUEST\n",
		"duplicate priority": "research_number: 'R$'\nguest_title_code: GUEST\nclinical_priority: [\"VET 410\", \"VET  410\"]\n",
		"duplicate guest": "research_number: 'R$'\nguest_title_code: GUEST\nguest_accounts:\n" +
			"  - {department: VME, person_key: A}\n  - {department: VME, person_key: B}\n",
		"guest without key": "research_number: 'R$'\nguest_title_code: GUEST\nguest_accounts:\n  - {department: VME}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(data))
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	require.Equal(t, "GUEST", p.GuestTitleCode)
	require.Len(t, p.GuestAccounts, 6)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o644))
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	require.Equal(t, "VET 420", p.PriorityCourse([]string{"VET 410", "VET 420"}))

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestPolicy_PriorityCourse(t *testing.T) {
	p, err := ParsePolicy([]byte(testPolicy))
	require.NoError(t, err)

	assert.Equal(t, "", p.PriorityCourse(nil))
	assert.Equal(t, "VET 410", p.PriorityCourse([]string{"VET 410"}))
	assert.Equal(t, "VET 420", p.PriorityCourse([]string{"VET 410", "VET 420"}))
	assert.Equal(t, "VET 420", p.PriorityCourse([]string{"VET 420", "VET 410"}))
	// listed courses outrank unlisted ones
	assert.Equal(t, "VET 410", p.PriorityCourse([]string{"VET 401", "VET 410"}))
	// unlisted courses fall back to ascending code
	assert.Equal(t, "VET 401", p.PriorityCourse([]string{"VET 455", "vet 401"}))

	d := DefaultPolicy()
	assert.Equal(t, "VET 410", d.PriorityCourse([]string{"VET 420", "VET 410"}))
}
