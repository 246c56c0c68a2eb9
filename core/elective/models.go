package elective

import (
	"time"

	"github.com/MrXof/ElectiveFlow/core"
)

// Status is the lifecycle state of a Registration.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
)

// Policy governs how registrants of an Offering are assigned to groups.
type Policy string

const (
	// PolicyUniform places every student in the least loaded group as soon as they register.
	PolicyUniform Policy = "uniform"
	// PolicyPriority leaves students pending until the groups are optimized by priority.
	PolicyPriority Policy = "priority"
	// PolicyManual leaves group assignment to the teacher.
	PolicyManual Policy = "manual"
)

var Policies = []Policy{PolicyUniform, PolicyPriority, PolicyManual}

// Registration is one student's enrollment record against one Offering.
type Registration struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	StudentName  string    `json:"student_name"`
	OfferingID   string    `json:"offering_id"`
	RegisteredAt time.Time `json:"registered_at"` // UTC
	Priority     *int      `json:"priority,omitempty"`
	Group        *int      `json:"group,omitempty"` // 1-based
	Status       Status    `json:"status"`
}

func (r Registration) IsAssigned() bool { return r.Group != nil }

func (r Registration) clone() Registration {
	c := r
	if r.Priority != nil {
		p := *r.Priority
		c.Priority = &p
	}
	if r.Group != nil {
		g := *r.Group
		c.Group = &g
	}
	return c
}

// Offering is an elective course students register for.
type Offering struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Period            string    `json:"period"`
	TeacherID         string    `json:"teacher_id"`
	TeacherName       string    `json:"teacher_name"`
	Capacity          int       `json:"capacity"`
	Enrolled          int       `json:"enrolled"`
	Categories        []string  `json:"categories"`
	ImageURL          string    `json:"image_url,omitempty"`
	Policy            Policy    `json:"policy"`
	NumberOfGroups    *int      `json:"number_of_groups,omitempty"` // nil: no grouping
	RegistrationStart time.Time `json:"registration_start"`         // UTC
	RegistrationEnd   time.Time `json:"registration_end"`           // UTC
	CreatedAt         time.Time `json:"created_at"`                 // UTC
	UpdatedAt         time.Time `json:"updated_at"`                 // UTC
}

func (o Offering) IsFull() bool { return o.Enrolled >= o.Capacity }

func (o Offering) AvailableSlots() int {
	if slots := o.Capacity - o.Enrolled; slots > 0 {
		return slots
	}
	return 0
}

func (o Offering) FillPercentage() float64 {
	if o.Capacity <= 0 {
		return 0
	}
	return float64(o.Enrolled) / float64(o.Capacity)
}

// Groups returns the configured number of groups; 0 means no grouping.
func (o Offering) Groups() int {
	if o.NumberOfGroups == nil {
		return 0
	}
	return *o.NumberOfGroups
}

// MaxPerGroup is the capacity of each group: capacity split evenly, remainder dropped.
func (o Offering) MaxPerGroup() int {
	if n := o.Groups(); n > 0 {
		return o.Capacity / n
	}
	return 0
}

func (o Offering) IsRegistrationOpen(now time.Time) bool {
	if !o.RegistrationStart.IsZero() && now.Before(o.RegistrationStart) {
		return false
	}
	if !o.RegistrationEnd.IsZero() && now.After(o.RegistrationEnd) {
		return false
	}
	return true
}

// DailyCount is the number of registrations recorded on one calendar day.
type DailyCount struct {
	Day   time.Time `json:"day"` // UTC midnight
	Count int       `json:"count"`
}

// Profile holds what a student is interested in.
type Profile struct {
	Interests []string `json:"interests"`
}

type (
	GroupCount struct {
		Number   int `json:"number"`
		Students int `json:"students"`
	}

	// GroupBalance summarises how evenly students are spread across groups.
	GroupBalance struct {
		Groups      []GroupCount `json:"groups"`
		Min         int          `json:"min"`
		Max         int          `json:"max"`
		Coefficient float64      `json:"balance_coefficient"`
	}

	Analytics struct {
		Daily          []DailyCount  `json:"daily"`
		PredictedFinal *int          `json:"predicted_final_count"`
		Balance        *GroupBalance `json:"group_balance,omitempty"`
	}
)

// Changeset maps registration IDs to their desired group; a nil group unassigns.
type Changeset map[string]*int

// NewOffering contains information needed to create a new Offering.
type NewOffering struct {
	Name              string    `json:"name" validate:"required,max=200"`
	Description       string    `json:"description" validate:"required"`
	Period            string    `json:"period" validate:"required"`
	Capacity          int       `json:"capacity" validate:"required,min=1"`
	Categories        []string  `json:"categories" validate:"required,min=1,dive,tag"`
	ImageURL          string    `json:"image_url" validate:"omitempty,url"`
	Policy            Policy    `json:"policy" validate:"required,policy"`
	NumberOfGroups    *int      `json:"number_of_groups" validate:"omitempty,min=1"`
	RegistrationStart time.Time `json:"registration_start" validate:"required"`
	RegistrationEnd   time.Time `json:"registration_end" validate:"required,gtfield=RegistrationStart"`
}

func (no *NewOffering) Clean() {
	no.Name = core.CleanString(no.Name)
	no.Description = core.CleanString(no.Description)
	no.Period = core.CleanString(no.Period)
	no.ImageURL = core.CleanString(no.ImageURL)
	no.Categories = core.CleanStrings(no.Categories)
	no.Policy = Policy(core.CleanString(string(no.Policy), true /* lower */))
}

// UpdateOffering defines what information may be provided to modify an existing Offering.
// Zero values keep the original.
type UpdateOffering struct {
	Name              string    `json:"name" validate:"omitempty,max=200"`
	Description       string    `json:"description"`
	Period            string    `json:"period"`
	Capacity          *int      `json:"capacity" validate:"omitempty,min=1"`
	Categories        []string  `json:"categories" validate:"omitempty,min=1,dive,tag"`
	ImageURL          *string   `json:"image_url" validate:"omitempty"`
	Policy            Policy    `json:"policy" validate:"omitempty,policy"`
	NumberOfGroups    *int      `json:"number_of_groups" validate:"omitempty,min=0"`
	RegistrationStart time.Time `json:"registration_start"`
	RegistrationEnd   time.Time `json:"registration_end"`
}

// apply merges uo into orig and returns the updated Offering.
func (uo *UpdateOffering) apply(orig Offering) Offering {
	o := orig
	if name := core.CleanString(uo.Name); name != "" {
		o.Name = name
	}
	if desc := core.CleanString(uo.Description); desc != "" {
		o.Description = desc
	}
	if period := core.CleanString(uo.Period); period != "" {
		o.Period = period
	}
	if uo.Capacity != nil {
		o.Capacity = *uo.Capacity
	}
	if cats := core.CleanStrings(uo.Categories); len(cats) > 0 {
		o.Categories = cats
	}
	if uo.ImageURL != nil {
		o.ImageURL = core.CleanString(*uo.ImageURL)
	}
	if policy := Policy(core.CleanString(string(uo.Policy), true /* lower */)); policy != "" {
		o.Policy = policy
	}
	if uo.NumberOfGroups != nil {
		if *uo.NumberOfGroups == 0 { // 0 disables grouping
			o.NumberOfGroups = nil
		} else {
			n := *uo.NumberOfGroups
			o.NumberOfGroups = &n
		}
	}
	if !uo.RegistrationStart.IsZero() {
		o.RegistrationStart = uo.RegistrationStart.UTC()
	}
	if !uo.RegistrationEnd.IsZero() {
		o.RegistrationEnd = uo.RegistrationEnd.UTC()
	}
	return o
}

type NewRegistration struct {
	Priority *int `json:"priority" validate:"omitempty,min=1"`
}

type OfferingFilter struct {
	TeacherID string `query:"teacher_id"`
	Category  string `query:"category"`
	Policy    Policy `query:"policy"`
	Search    string `query:"search"`
	OpenAt    time.Time
}

func (f *OfferingFilter) Clean() {
	f.TeacherID = core.CleanString(f.TeacherID)
	f.Category = core.CleanString(f.Category)
	f.Policy = Policy(core.CleanString(string(f.Policy), true /* lower */))
	f.Search = core.CleanString(f.Search)
}

// RegistrationFilter applies equality filters; empty fields are ignored.
type RegistrationFilter struct {
	OfferingID string
	StudentID  string
	Status     Status
}
