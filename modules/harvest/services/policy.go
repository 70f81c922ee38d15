package services

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/pkg/constants"
)

var ErrInvalidPolicy = errors.New("invalid harvest policy")

type CoursePattern struct {
	Subject string `yaml:"subject" validate:"required"`
	Number  string `yaml:"number" validate:"required"`

	number *regexp.Regexp
}

type GuestAccount struct {
	Department string `yaml:"department" validate:"required"`
	PersonKey  string `yaml:"person_key" validate:"required"`
}

// Policy holds the institution-specific rules of a harvest.
type Policy struct {
	// ClinicalCourses are owned by the clinical rotation phase and skipped by the others.
	ClinicalCourses []CoursePattern `yaml:"clinical_courses" validate:"dive"`
	// ResearchNumber matches course numbers that may carry zero enrollment.
	ResearchNumber string `yaml:"research_number" validate:"required"`
	// ClinicalPriority ranks course codes ("VET 410") for weeks with overlapping rotations.
	ClinicalPriority []string       `yaml:"clinical_priority"`
	GuestTitleCode   string         `yaml:"guest_title_code" validate:"required"`
	GuestAccounts    []GuestAccount `yaml:"guest_accounts" validate:"dive"`

	research *regexp.Regexp
	priority map[string]int
}

func DefaultPolicy() *Policy {
	p := &Policy{
		ClinicalCourses: []CoursePattern{{Subject: "VET", Number: `^4\d\d[A-Z]?$`}},
		ResearchNumber:  `^\d{3}R$`,
		GuestTitleCode:  "GUEST",
		GuestAccounts: []GuestAccount{
			{Department: "APC", PersonKey: "APCGUEST"},
			{Department: "PHR", PersonKey: "PHRGUEST"},
			{Department: "PMI", PersonKey: "PMIGUEST"},
			{Department: "VMB", PersonKey: "VMBGUEST"},
			{Department: "VME", PersonKey: "VMEGUEST"},
			{Department: "VSR", PersonKey: "VSRGUEST"},
		},
	}
	if err := p.compile(); err != nil {
		panic(err)
	}
	return p
}

// LoadPolicy reads a YAML policy file; an empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read harvest policy")
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := constants.Validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) compile() error {
	for i := range p.ClinicalCourses {
		re, err := regexp.Compile(p.ClinicalCourses[i].Number)
		if err != nil {
			return fmt.Errorf("%w: clinical_courses[%d].number: %v", ErrInvalidPolicy, i, err)
		}
		p.ClinicalCourses[i].Subject = strings.ToUpper(strings.TrimSpace(p.ClinicalCourses[i].Subject))
		p.ClinicalCourses[i].number = re
	}
	re, err := regexp.Compile(p.ResearchNumber)
	if err != nil {
		return fmt.Errorf("%w: research_number: %v", ErrInvalidPolicy, err)
	}
	p.research = re

	p.priority = make(map[string]int, len(p.ClinicalPriority))
	for i, code := range p.ClinicalPriority {
		key := normalizeCourseCode(code)
		if _, dup := p.priority[key]; dup {
			return fmt.Errorf("%w: clinical_priority lists %q twice", ErrInvalidPolicy, code)
		}
		p.priority[key] = i
	}

	seen := make(map[string]bool, len(p.GuestAccounts))
	for _, g := range p.GuestAccounts {
		if seen[g.Department] {
			return fmt.Errorf("%w: guest account for department %q listed twice", ErrInvalidPolicy, g.Department)
		}
		seen[g.Department] = true
	}
	return nil
}

func (p *Policy) IsClinicalCourse(subject, number string) bool {
	subject = strings.ToUpper(strings.TrimSpace(subject))
	number = strings.ToUpper(strings.TrimSpace(number))
	for _, c := range p.ClinicalCourses {
		if c.Subject == subject && c.number.MatchString(number) {
			return true
		}
	}
	return false
}

func (p *Policy) IsResearchCourse(number string) bool {
	return p.research.MatchString(strings.ToUpper(strings.TrimSpace(number)))
}

// PriorityCourse picks the one course that accrues a week when a person is
// scheduled to several rotations that week. Courses listed in ClinicalPriority
// win in list order; unlisted courses rank after them by ascending course code.
func (p *Policy) PriorityCourse(codes []string) string {
	if len(codes) == 0 {
		return ""
	}
	ranked := make([]string, 0, len(codes))
	for _, c := range codes {
		ranked = append(ranked, normalizeCourseCode(c))
	}
	sort.Slice(ranked, func(i, j int) bool {
		ri, iListed := p.priority[ranked[i]]
		rj, jListed := p.priority[ranked[j]]
		switch {
		case iListed && jListed:
			return ri < rj
		case iListed != jListed:
			return iListed
		default:
			return ranked[i] < ranked[j]
		}
	})
	return ranked[0]
}

func normalizeCourseCode(code string) string {
	parts := strings.Fields(code)
	if len(parts) != 2 {
		return strings.ToUpper(strings.Join(parts, " "))
	}
	return entities.CourseCode(parts[0], parts[1])
}
