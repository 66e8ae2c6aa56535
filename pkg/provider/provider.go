// Package provider holds healthcare provider records and the read-only store
// the credentialing pipeline retrieves them from.
package provider

import (
	"encoding/json"
)

// Provider is the complete credentialing file for one healthcare provider.
// Section names match the keys used in regulation data_fields.
type Provider struct {
	ID                   string               `json:"provider_id" yaml:"provider_id" validate:"required"`
	PersonalInfo         PersonalInfo         `json:"PersonalInfo" yaml:"PersonalInfo"`
	ProfessionalIds      ProfessionalIds      `json:"ProfessionalIds" yaml:"ProfessionalIds"`
	Educations           Educations           `json:"Educations" yaml:"Educations"`
	Specialties          Specialties          `json:"Specialties" yaml:"Specialties"`
	HospitalAffiliations HospitalAffiliations `json:"HospitalAffiliations" yaml:"HospitalAffiliations"`
	WorkHistory          WorkHistory          `json:"WorkHistory" yaml:"WorkHistory"`
	PLIs                 PLIs                 `json:"PLIs" yaml:"PLIs"`
	PracticeInformation  PracticeInformation  `json:"PracticeInformation" yaml:"PracticeInformation"`
	MalpracticeHistory   MalpracticeHistory   `json:"MalpracticeHistory" yaml:"MalpracticeHistory"`
	Disclosure           Disclosure           `json:"Disclosure" yaml:"Disclosure"`
	BoardCertifications  BoardCertifications  `json:"BoardCertifications" yaml:"BoardCertifications"`
	ContinuingEducation  ContinuingEducation  `json:"ContinuingEducation" yaml:"ContinuingEducation"`
	PeerReferences       PeerReferences       `json:"PeerReferences" yaml:"PeerReferences"`
	FinancialDisclosure  FinancialDisclosure  `json:"FinancialDisclosure" yaml:"FinancialDisclosure"`
	QualityMetrics       QualityMetrics       `json:"QualityMetrics" yaml:"QualityMetrics"`
}

type PersonalInfo struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	DateOfBirth string `json:"date_of_birth" yaml:"date_of_birth"`
	SSN         string `json:"ssn" yaml:"ssn"`
	Email       string `json:"email" yaml:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" yaml:"phone"`
}

type ProfessionalIds struct {
	LicenseNumber string `json:"license_number" yaml:"license_number"`
	DEANumber     string `json:"dea_number" yaml:"dea_number"`
	NPI           string `json:"npi" yaml:"npi" validate:"omitempty,numeric,len=10"`
	StateLicense  string `json:"state_license" yaml:"state_license"`
	FederalTaxID  string `json:"federal_tax_id" yaml:"federal_tax_id"`
}

type Educations struct {
	MedicalSchool  string `json:"medical_school" yaml:"medical_school"`
	GraduationYear int    `json:"graduation_year" yaml:"graduation_year" validate:"omitempty,gte=1900"`
	Residency      string `json:"residency" yaml:"residency"`
	Fellowship     string `json:"fellowship,omitempty" yaml:"fellowship,omitempty"`
	Undergraduate  string `json:"undergraduate" yaml:"undergraduate"`
}

type Specialties struct {
	PrimarySpecialty string   `json:"primary_specialty" yaml:"primary_specialty"`
	Subspecialties   []string `json:"subspecialties" yaml:"subspecialties"`
	Certifications   []string `json:"certifications" yaml:"certifications"`
}

type HospitalAffiliations struct {
	Hospitals           []string `json:"hospitals" yaml:"hospitals"`
	Privileges          []string `json:"privileges" yaml:"privileges"`
	AdmittingPrivileges bool     `json:"admitting_privileges" yaml:"admitting_privileges"`
}

type WorkHistory struct {
	EmploymentHistory []map[string]any `json:"employment_history" yaml:"employment_history"`
	YearsExperience   int              `json:"years_experience" yaml:"years_experience" validate:"gte=0"`
}

// PLIs is professional liability insurance.
type PLIs struct {
	MalpracticeInsurance string `json:"malpractice_insurance" yaml:"malpractice_insurance"`
	CoverageAmount       int    `json:"coverage_amount" yaml:"coverage_amount" validate:"gte=0"`
	InsuranceProvider    string `json:"insurance_provider" yaml:"insurance_provider"`
	PolicyNumber         string `json:"policy_number" yaml:"policy_number"`
	ExpirationDate       string `json:"expiration_date" yaml:"expiration_date"`
}

type PracticeInformation struct {
	PracticeName    string `json:"practice_name" yaml:"practice_name"`
	PracticeAddress string `json:"practice_address" yaml:"practice_address"`
	PracticePhone   string `json:"practice_phone" yaml:"practice_phone"`
	PracticeWebsite string `json:"practice_website" yaml:"practice_website"`
}

type MalpracticeHistory struct {
	MalpracticeClaims int    `json:"malpractice_claims" yaml:"malpractice_claims" validate:"gte=0"`
	Settlements       int    `json:"settlements" yaml:"settlements" validate:"gte=0"`
	PendingClaims     int    `json:"pending_claims" yaml:"pending_claims" validate:"gte=0"`
	LastClaimDate     string `json:"last_claim_date,omitempty" yaml:"last_claim_date,omitempty"`
}

type Disclosure struct {
	DisciplinaryActions []string `json:"disciplinary_actions" yaml:"disciplinary_actions"`
	CriminalRecord      string   `json:"criminal_record" yaml:"criminal_record"`
	LicenseSuspensions  int      `json:"license_suspensions" yaml:"license_suspensions" validate:"gte=0"`
	VoluntarySurrender  bool     `json:"voluntary_surrender" yaml:"voluntary_surrender"`
}

type BoardCertifications struct {
	BoardCertifications   []string `json:"board_certifications" yaml:"board_certifications"`
	CertificationDates    []string `json:"certification_dates" yaml:"certification_dates"`
	ExpirationDates       []string `json:"expiration_dates" yaml:"expiration_dates"`
	RecertificationStatus string   `json:"recertification_status" yaml:"recertification_status"`
}

type ContinuingEducation struct {
	CMECredits       int              `json:"cme_credits" yaml:"cme_credits" validate:"gte=0"`
	EducationHistory []map[string]any `json:"education_history" yaml:"education_history"`
	RequiredCredits  int              `json:"required_credits" yaml:"required_credits" validate:"gte=0"`
	ComplianceStatus string           `json:"compliance_status" yaml:"compliance_status"`
}

type PeerReferences struct {
	References      []map[string]string `json:"references" yaml:"references"`
	PeerEvaluations string              `json:"peer_evaluations" yaml:"peer_evaluations"`
}

type FinancialDisclosure struct {
	FinancialInterests          []string `json:"financial_interests" yaml:"financial_interests"`
	Conflicts                   string   `json:"conflicts" yaml:"conflicts"`
	PharmaceuticalRelationships string   `json:"pharmaceutical_relationships" yaml:"pharmaceutical_relationships"`
	DeviceCompanyRelationships  string   `json:"device_company_relationships" yaml:"device_company_relationships"`
}

type QualityMetrics struct {
	PatientSatisfaction float64 `json:"patient_satisfaction" yaml:"patient_satisfaction"`
	OutcomeMetrics      float64 `json:"outcome_metrics" yaml:"outcome_metrics"`
	ReadmissionRate     float64 `json:"readmission_rate" yaml:"readmission_rate"`
	MortalityRate       float64 `json:"mortality_rate" yaml:"mortality_rate"`
	QualityScore        float64 `json:"quality_score" yaml:"quality_score" validate:"gte=0,lte=5"`
}

// Sections lists the credential sections in their canonical order.
var Sections = []string{
	"PersonalInfo", "ProfessionalIds", "Educations", "Specialties",
	"HospitalAffiliations", "WorkHistory", "PLIs", "PracticeInformation",
	"MalpracticeHistory", "Disclosure", "BoardCertifications",
	"ContinuingEducation", "PeerReferences", "FinancialDisclosure", "QualityMetrics",
}

// Data returns the provider as generic JSON-shaped data keyed by section
// name, the form prompts and deterministic rules operate on.
func (p *Provider) Data() map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return map[string]any{"provider_id": p.ID}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"provider_id": p.ID}
	}
	return out
}

// Section returns one credential section in generic form.
func (p *Provider) Section(name string) (map[string]any, bool) {
	m, ok := p.Data()[name].(map[string]any)
	return m, ok
}

// Summary is the short listing form of a provider.
type Summary struct {
	ID                   string   `json:"provider_id"`
	Name                 string   `json:"name"`
	Specialty            string   `json:"specialty"`
	YearsExperience      int      `json:"years_experience"`
	PracticeName         string   `json:"practice_name"`
	LicenseNumber        string   `json:"license_number"`
	BoardCertifications  []string `json:"board_certifications"`
	MalpracticeInsurance string   `json:"malpractice_insurance"`
	CMECredits           int      `json:"cme_credits"`
	QualityScore         float64  `json:"quality_score"`
}

// Summarize returns the listing form of p.
func (p *Provider) Summarize() Summary {
	return Summary{
		ID:                   p.ID,
		Name:                 p.PersonalInfo.Name,
		Specialty:            p.Specialties.PrimarySpecialty,
		YearsExperience:      p.WorkHistory.YearsExperience,
		PracticeName:         p.PracticeInformation.PracticeName,
		LicenseNumber:        p.ProfessionalIds.LicenseNumber,
		BoardCertifications:  p.BoardCertifications.BoardCertifications,
		MalpracticeInsurance: p.PLIs.MalpracticeInsurance,
		CMECredits:           p.ContinuingEducation.CMECredits,
		QualityScore:         p.QualityMetrics.QualityScore,
	}
}

// Completeness reports the fraction of sections that carry any non-zero
// value and names the ones that do not.
func (p *Provider) Completeness() (float64, []string) {
	data := p.Data()
	var empty []string
	for _, s := range Sections {
		if !hasContent(data[s]) {
			empty = append(empty, s)
		}
	}
	present := len(Sections) - len(empty)
	return float64(present) / float64(len(Sections)), empty
}

func hasContent(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		for _, inner := range t {
			if hasContent(inner) {
				return true
			}
		}
		return false
	case []any:
		return len(t) > 0
	case string:
		return t != ""
	case float64:
		return t != 0
	case bool:
		return t
	}
	return true
}
