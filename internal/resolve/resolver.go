// Package resolve maps source rows onto canonical patients and caregivers.
//
// Patients are matched by national ID, then by phone, then by name tokens against
// patients in creation order; anything unmatched becomes a new patient. Caregivers
// are keyed on national ID or email and accumulate the patients they care for.
package resolve

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicsync/internal/docstore/core"
	"clinicsync/internal/normalize"
	"clinicsync/pkg/domain"
)

// Method records how a candidate was resolved.
type Method string

// Resolution methods, in precedence order.
const (
	MethodNationalID Method = "national_id"
	MethodPhone      Method = "phone"
	MethodName       Method = "name"
	MethodCreated    Method = "created"
)

// Candidate is the identity a source row offers.
type Candidate struct {
	NationalID  string
	Phone       string
	Email       string
	FirstName   string
	LastName    string
	DateOfBirth *time.Time
	Source      domain.Source
}

// FullName joins the candidate's names.
func (c Candidate) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Match is a resolution outcome.
type Match struct {
	Patient domain.PatientKey
	Method  Method
	Created bool
	// Ambiguity is set when several patients matched by name and the oldest won.
	Ambiguity *domain.ResolutionAmbiguity
}

// Reader is the part of the target store the resolver reads.
type Reader interface {
	Get(ctx context.Context, collection, id string) (core.Document, error)
	Query(ctx context.Context, collection string, q core.Query) ([]core.Document, error)
}

// Resolver holds the run's patient index. It is not safe for concurrent use.
type Resolver struct {
	store Reader
	log   zerolog.Logger

	patients []domain.PatientKey
	byID     map[string]int
	byNID    map[string]int
	byPhone  map[string]int
	byAlias  map[string]int
	folded   []string

	caregivers map[string]*domain.Caregiver
}

// New returns an empty resolver reading existing documents from store.
func New(store Reader, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		log:        log.With().Str("component", "resolve").Logger(),
		byID:       make(map[string]int),
		byNID:      make(map[string]int),
		byPhone:    make(map[string]int),
		byAlias:    make(map[string]int),
		caregivers: make(map[string]*domain.Caregiver),
	}
}

// Load indexes every stored patient in creation order.
func (r *Resolver) Load(ctx context.Context) error {
	docs, err := r.store.Query(ctx, domain.CollectionPatients, core.Query{OrderBy: core.FieldCreatedAt})
	if err != nil {
		return fmt.Errorf("load patients: %w", err)
	}
	for _, doc := range docs {
		var p domain.PatientKey
		if err := core.Decode(doc, &p); err != nil {
			return err
		}
		r.index(p)
	}
	r.log.Debug().Int("patients", len(docs)).Msg("patient index loaded")
	return nil
}

// Len returns the number of indexed patients.
func (r *Resolver) Len() int { return len(r.patients) }

// Patient returns an indexed patient by document ID.
func (r *Resolver) Patient(id string) (domain.PatientKey, bool) {
	i, ok := r.byID[id]
	if !ok {
		return domain.PatientKey{}, false
	}
	return r.patients[i], true
}

// Patients returns the indexed patients in creation order.
func (r *Resolver) Patients() []domain.PatientKey {
	return append([]domain.PatientKey(nil), r.patients...)
}

// Upsert records an EHR patient row. An existing patient with the same ID is updated
// in place, keeping its position in creation order. The merged key is returned.
func (r *Resolver) Upsert(p domain.PatientKey) domain.PatientKey {
	if i, ok := r.byID[p.ID]; ok {
		merged := mergePatient(r.patients[i], p)
		r.unindex(i)
		r.patients[i] = merged
		r.reindex(i)
		return merged
	}
	r.index(p)
	return p
}

// NationalIDOwner returns the indexed patient other than p holding p's national ID.
func (r *Resolver) NationalIDOwner(p domain.PatientKey) (domain.PatientKey, bool) {
	owner, ok := r.ResolveNationalID(p.NationalID)
	if !ok || owner.ID == p.ID {
		return domain.PatientKey{}, false
	}
	return owner, true
}

// FoldInto merges an EHR patient row into the patient ownerID and records the row's
// document ID as an alias of it. It fails when the row's ID is itself an indexed
// patient, since two stored patients cannot be merged here.
func (r *Resolver) FoldInto(ownerID string, p domain.PatientKey) (domain.PatientKey, error) {
	i, ok := r.byID[ownerID]
	if !ok {
		return domain.PatientKey{}, fmt.Errorf("unknown patient %s", ownerID)
	}
	alias := p.ID
	if _, stored := r.byID[alias]; stored {
		return domain.PatientKey{}, domain.ValidationError{
			Field:   "nationalId",
			Message: fmt.Sprintf("%s shares its national id with %s", alias, ownerID),
		}
	}
	p.ID = ownerID
	p.SourcePatientNo = ""
	p.Aliases = nil
	merged := mergePatient(r.patients[i], p)
	if !slices.Contains(merged.Aliases, alias) {
		merged.Aliases = append(slices.Clone(merged.Aliases), alias)
	}
	r.unindex(i)
	r.patients[i] = merged
	r.reindex(i)
	r.log.Warn().Str("patient_id", ownerID).Str("alias", alias).Str("national_id", p.NationalID).
		Msg("patient number folded into existing patient")
	return merged, nil
}

// Canonical maps a patient document ID through the alias index.
func (r *Resolver) Canonical(id string) string {
	if i, ok := r.byAlias[id]; ok {
		return r.patients[i].ID
	}
	return id
}

// Resolve finds the patient a candidate refers to, creating one when nothing matches.
func (r *Resolver) Resolve(c Candidate) (Match, error) {
	if c.NationalID != "" {
		if i, ok := r.byNID[c.NationalID]; ok {
			return Match{Patient: r.patients[i], Method: MethodNationalID}, nil
		}
	}
	if c.Phone != "" {
		if i, ok := r.byPhone[c.Phone]; ok {
			return Match{Patient: r.patients[i], Method: MethodPhone}, nil
		}
	}
	if m, ok := r.matchName(c.FullName()); ok {
		return m, nil
	}

	p := domain.PatientKey{
		ID:          createdID(c),
		Source:      c.Source,
		NationalID:  c.NationalID,
		Phone:       c.Phone,
		Email:       c.Email,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		DateOfBirth: c.DateOfBirth,
		Gender:      domain.GenderUnknown,
		Active:      true,
	}
	if err := p.Validate(); err != nil {
		return Match{}, err
	}
	r.index(p)
	r.log.Debug().Str("patient_id", p.ID).Msg("patient created from unmatched candidate")
	return Match{Patient: p, Method: MethodCreated, Created: true}, nil
}

// ResolveNationalID looks up a patient by national ID only.
func (r *Resolver) ResolveNationalID(nid string) (domain.PatientKey, bool) {
	if nid == "" {
		return domain.PatientKey{}, false
	}
	i, ok := r.byNID[nid]
	if !ok {
		return domain.PatientKey{}, false
	}
	return r.patients[i], true
}

func (r *Resolver) matchName(full string) (Match, bool) {
	tokens := strings.Fields(normalize.Lower(full))
	if len(tokens) == 0 {
		return Match{}, false
	}
	var hits []int
	for i, name := range r.folded {
		if containsAll(name, tokens) {
			hits = append(hits, i)
		}
	}
	if len(hits) == 0 {
		return Match{}, false
	}
	m := Match{Patient: r.patients[hits[0]], Method: MethodName}
	if len(hits) > 1 {
		ids := make([]string, len(hits))
		for i, h := range hits {
			ids[i] = r.patients[h].ID
		}
		m.Ambiguity = &domain.ResolutionAmbiguity{Name: full, Chosen: m.Patient.ID, Candidates: ids}
		r.log.Info().Str("name", full).Strs("candidates", ids).Str("chosen", m.Patient.ID).Msg("ambiguous name match")
	}
	return m, true
}

func containsAll(name string, tokens []string) bool {
	if name == "" {
		return false
	}
	for _, t := range tokens {
		if !strings.Contains(name, t) {
			return false
		}
	}
	return true
}

func (r *Resolver) index(p domain.PatientKey) {
	r.patients = append(r.patients, p)
	r.folded = append(r.folded, "")
	r.reindex(len(r.patients) - 1)
}

func (r *Resolver) reindex(i int) {
	p := r.patients[i]
	r.byID[p.ID] = i
	if p.NationalID != "" {
		if _, taken := r.byNID[p.NationalID]; !taken {
			r.byNID[p.NationalID] = i
		}
	}
	if p.Phone != "" {
		if _, taken := r.byPhone[p.Phone]; !taken {
			r.byPhone[p.Phone] = i
		}
	}
	for _, a := range p.Aliases {
		r.byAlias[a] = i
	}
	r.folded[i] = normalize.Lower(p.FullName())
}

func (r *Resolver) unindex(i int) {
	p := r.patients[i]
	if r.byNID[p.NationalID] == i {
		delete(r.byNID, p.NationalID)
	}
	if r.byPhone[p.Phone] == i {
		delete(r.byPhone, p.Phone)
	}
}

// mergePatient overlays the non-empty fields of next onto prev.
func mergePatient(prev, next domain.PatientKey) domain.PatientKey {
	out := prev
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.SourcePatientNo, next.SourcePatientNo)
	set(&out.NationalID, next.NationalID)
	set(&out.Phone, next.Phone)
	set(&out.Email, next.Email)
	set(&out.FirstName, next.FirstName)
	set(&out.LastName, next.LastName)
	set(&out.BloodType, next.BloodType)
	set(&out.Address, next.Address)
	if next.DateOfBirth != nil {
		out.DateOfBirth = next.DateOfBirth
	}
	if next.Gender != "" && next.Gender != domain.GenderUnknown {
		out.Gender = next.Gender
	}
	if next.BirthHistory != nil {
		out.BirthHistory = next.BirthHistory
	}
	if len(next.Extras) > 0 {
		out.Extras = next.Extras
	}
	out.Active = next.Active || prev.Active
	return out
}

// createdID derives a stable ID for a patient first seen outside the EHR so
// re-running the same export does not mint new patients.
func createdID(c Candidate) string {
	src := string(c.Source)
	if src == "" {
		src = "unknown"
	}
	if digits := digitsOf(c.Phone); digits != "" {
		return "patient_" + src + "_" + digits
	}
	sum := md5.Sum([]byte(normalize.Lower(c.FullName()) + "|" + dobKey(c.DateOfBirth)))
	return "patient_" + src + "_" + hex.EncodeToString(sum[:])[:12]
}

func dobKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ErrNoCaregiverKey is returned when a caregiver has neither national ID nor email.
var ErrNoCaregiverKey = errors.New("caregiver has no national id or email")
