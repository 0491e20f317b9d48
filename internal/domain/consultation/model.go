package consultation

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/pkg/civil"
	"github.com/webdiabetes/diabetes-api/pkg/optional"
)

// Consultation maps to the consultations table. It is created together with
// its medications and never edited afterwards.
type Consultation struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	PatientID   uuid.UUID     `db:"patient_id" json:"patient_id"`
	Diagnosis   *string       `db:"diagnosis" json:"diagnosis"`
	Notes       *string       `db:"notes" json:"notes"`
	Indications *string       `db:"indications" json:"indications"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	Medications []*Medication `db:"-" json:"medications"`
}

// Medication maps to the medications table. Rows carry two field sets: the
// free-text dose/route/frequency/duration/indications and the structured
// quantity/description/duration_days. Neither replaces the other.
type Medication struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	DrugName       string    `db:"drug_name" json:"drug_name"`
	Dose           *string   `db:"dose" json:"dose"`
	Route          *string   `db:"route" json:"route"`
	Frequency      *string   `db:"frequency" json:"frequency"`
	Duration       *string   `db:"duration" json:"duration"`
	Indications    *string   `db:"indications" json:"indications"`
	Quantity       *int      `db:"quantity" json:"quantity"`
	Description    *string   `db:"description" json:"description"`
	DurationDays   *int      `db:"duration_days" json:"duration_days"`
	SortOrder      int       `db:"sort_order" json:"sort_order"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayDescription returns the stored description or, when there is none,
// one built from the free-text fields. The built value is never stored.
func (m *Medication) DisplayDescription() *string {
	if m.Description != nil && strings.TrimSpace(*m.Description) != "" {
		return m.Description
	}
	var parts []string
	for _, p := range []struct {
		label string
		value *string
	}{
		{"Dosis", m.Dose},
		{"Via", m.Route},
		{"Frecuencia", m.Frequency},
		{"Duracion", m.Duration},
		{"Indicaciones", m.Indications},
	} {
		if v := normalizeText(p.value); v != nil {
			parts = append(parts, p.label+": "+*v)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, " | ")
	return &s
}

// MarshalJSON renders description through DisplayDescription.
func (m Medication) MarshalJSON() ([]byte, error) {
	type plain Medication
	return json.Marshal(struct {
		plain
		Description *string `json:"description"`
	}{plain(m), m.DisplayDescription()})
}

// PatientRef is the part of a patients row this package reads.
type PatientRef struct {
	ID              uuid.UUID
	Cedula          string
	Nombres         string
	Apellidos       string
	FechaNacimiento civil.Date
}

// -- Inputs --

// MedicationInput is one prescribed drug in a create request. Either shape
// is accepted; each missing free-text field is filled from its structured
// counterpart.
type MedicationInput struct {
	DrugName     string  `json:"drug_name"`
	Dose         *string `json:"dose"`
	Route        *string `json:"route"`
	Frequency    *string `json:"frequency"`
	Duration     *string `json:"duration"`
	Indications  *string `json:"indications"`
	Quantity     *int    `json:"quantity"`
	Description  *string `json:"description"`
	DurationDays *int    `json:"duration_days"`
	SortOrder    *int    `json:"sort_order"`
}

func (in *MedicationInput) Validate() error {
	in.DrugName = strings.TrimSpace(in.DrugName)
	if in.DrugName == "" {
		return apperr.BadRequest("drug_name is required")
	}
	if normalizeText(in.Dose) == nil && in.Quantity == nil {
		return apperr.BadRequest("dose is required")
	}
	if in.Quantity != nil && *in.Quantity < 0 {
		return apperr.BadRequest("quantity must not be negative")
	}
	if in.DurationDays != nil && *in.DurationDays < 0 {
		return apperr.BadRequest("duration_days must not be negative")
	}
	return nil
}

// toMedication builds the row for position index of a batch.
func (in *MedicationInput) toMedication(consultationID uuid.UUID, index int) *Medication {
	m := &Medication{
		ConsultationID: consultationID,
		DrugName:       in.DrugName,
		Dose:           firstText(in.Dose, intText(in.Quantity)),
		Route:          normalizeText(in.Route),
		Frequency:      normalizeText(in.Frequency),
		Duration:       firstText(in.Duration, intText(in.DurationDays)),
		Indications:    firstText(in.Indications, in.Description),
		Quantity:       in.Quantity,
		Description:    normalizeText(in.Description),
		DurationDays:   in.DurationDays,
		SortOrder:      index,
	}
	if in.SortOrder != nil {
		m.SortOrder = *in.SortOrder
	}
	return m
}

// ConsultationCreate registers a consultation for the patient named by
// Cedula or PatientID.
type ConsultationCreate struct {
	Cedula      string            `json:"cedula"`
	PatientID   *uuid.UUID        `json:"patient_id"`
	Fecha       *string           `json:"fecha"`
	Diagnosis   *string           `json:"diagnosis"`
	Notes       *string           `json:"notes"`
	Indications *string           `json:"indications"`
	Medications []MedicationInput `json:"medications"`
}

// UnmarshalJSON also accepts the Spanish keys diagnostico, notas and
// indicaciones, which take precedence.
func (in *ConsultationCreate) UnmarshalJSON(b []byte) error {
	type plain ConsultationCreate
	var aux struct {
		plain
		Diagnostico  *string `json:"diagnostico"`
		Notas        *string `json:"notas"`
		Indicaciones *string `json:"indicaciones"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*in = ConsultationCreate(aux.plain)
	if aux.Diagnostico != nil {
		in.Diagnosis = aux.Diagnostico
	}
	if aux.Notas != nil {
		in.Notes = aux.Notas
	}
	if aux.Indicaciones != nil {
		in.Indications = aux.Indicaciones
	}
	return nil
}

func (in *ConsultationCreate) Validate() error {
	in.Cedula = strings.TrimSpace(in.Cedula)
	if in.Cedula == "" && in.PatientID == nil {
		return apperr.BadRequest("cedula is required")
	}
	if len(in.Medications) == 0 {
		return apperr.BadRequest("medications must not be empty")
	}
	for i := range in.Medications {
		if err := in.Medications[i].Validate(); err != nil {
			return apperr.BadRequest("medications[%d]: %v", i, err)
		}
	}
	return nil
}

// ParseFecha reads a consultation date: a bare date means midnight UTC,
// anything with a time part must be an ISO timestamp. Blank means now.
func ParseFecha(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if !strings.ContainsAny(v, "T ") {
		d, err := civil.Parse(v)
		if err != nil {
			return nil, apperr.BadRequest("Fecha invalida, usa YYYY-MM-DD")
		}
		t := d.Time()
		return &t, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.BadRequest("Fecha invalida, usa YYYY-MM-DD")
}

// MedicationUpdate edits the fields present in the request. Setting a
// structured field also refreshes its free-text counterpart unless that
// counterpart is sent too.
type MedicationUpdate struct {
	DrugName     optional.Field[string] `json:"drug_name"`
	Dose         optional.Field[string] `json:"dose"`
	Route        optional.Field[string] `json:"route"`
	Frequency    optional.Field[string] `json:"frequency"`
	Duration     optional.Field[string] `json:"duration"`
	Indications  optional.Field[string] `json:"indications"`
	Quantity     optional.Field[int]    `json:"quantity"`
	Description  optional.Field[string] `json:"description"`
	DurationDays optional.Field[int]    `json:"duration_days"`
	SortOrder    optional.Field[int]    `json:"sort_order"`
}

func (u *MedicationUpdate) Validate() error {
	if u.DrugName.IsNull() || (u.DrugName.V != nil && strings.TrimSpace(*u.DrugName.V) == "") {
		return apperr.BadRequest("drug_name is required")
	}
	if u.SortOrder.IsNull() {
		return apperr.BadRequest("sort_order must not be null")
	}
	return nil
}

// Apply merges the present fields into m.
func (u *MedicationUpdate) Apply(m *Medication) {
	if u.DrugName.V != nil {
		m.DrugName = strings.TrimSpace(*u.DrugName.V)
	}
	u.Dose.ApplyNullable(&m.Dose)
	u.Route.ApplyNullable(&m.Route)
	u.Frequency.ApplyNullable(&m.Frequency)
	u.Duration.ApplyNullable(&m.Duration)
	u.Indications.ApplyNullable(&m.Indications)
	u.SortOrder.Apply(&m.SortOrder)

	if u.Quantity.Set {
		u.Quantity.ApplyNullable(&m.Quantity)
		if !u.Dose.Set {
			m.Dose = intText(m.Quantity)
		}
	}
	if u.DurationDays.Set {
		u.DurationDays.ApplyNullable(&m.DurationDays)
		if !u.Duration.Set {
			m.Duration = intText(m.DurationDays)
		}
	}
	if u.Description.Set {
		m.Description = normalizeText(u.Description.V)
		if !u.Indications.Set {
			m.Indications = m.Description
		}
	}
}

// -- Views --

type PrintPatient struct {
	Nombres         string     `json:"nombres"`
	Apellidos       string     `json:"apellidos"`
	Cedula          string     `json:"cedula"`
	FechaNacimiento civil.Date `json:"fecha_nacimiento"`
}

type PrintConsultation struct {
	CreatedAt   time.Time `json:"created_at"`
	Diagnosis   *string   `json:"diagnosis"`
	Notes       *string   `json:"notes"`
	Indications *string   `json:"indications"`
}

type PrintMedication struct {
	DrugName     string  `json:"drug_name"`
	Dose         *string `json:"dose"`
	Route        *string `json:"route"`
	Frequency    *string `json:"frequency"`
	Duration     *string `json:"duration"`
	Indications  *string `json:"indications"`
	Quantity     *int    `json:"quantity"`
	Description  *string `json:"description"`
	DurationDays *int    `json:"duration_days"`
}

// PrintLab is one saved lab result as shown on the printable summary.
type PrintLab struct {
	LabNombre        string   `json:"lab_nombre"`
	ValorNum         *float64 `json:"valor_num"`
	ValorTexto       *string  `json:"valor_texto"`
	UnidadSnapshot   *string  `json:"unidad_snapshot"`
	RangoRefSnapshot *string  `json:"rango_ref_snapshot"`
}

// PrintSummary is the structured printable form of a consultation.
type PrintSummary struct {
	Patient      PrintPatient      `json:"patient"`
	Consultation PrintConsultation `json:"consultation"`
	Medications  []PrintMedication `json:"medications"`
	Labs         []PrintLab        `json:"labs"`
}

// -- helpers --

func normalizeText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func firstText(primary, fallback *string) *string {
	if v := normalizeText(primary); v != nil {
		return v
	}
	return normalizeText(fallback)
}

func intText(n *int) *string {
	if n == nil {
		return nil
	}
	s := strconv.Itoa(*n)
	return &s
}
