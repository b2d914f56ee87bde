package domain

// Job is a unit of dispatchable work. A job is open until ClosedAt is set;
// closed jobs accept no new assignments but still accept comments.
type Job struct {
	ID          string    `json:"id"`
	Synopsis    string    `json:"synopsis"`
	Location    *string   `json:"location,omitempty"`
	CallerName  *string   `json:"caller_name,omitempty"`
	CallerPhone *string   `json:"caller_phone,omitempty"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	CreatedBy   string    `json:"created_by"`
	ClosedAt    *string   `json:"closed_at,omitempty" format:"date-time"`
	ClosedBy    *string   `json:"closed_by,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
}

func (j Job) Open() bool { return j.ClosedAt == nil }

type Comment struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at" format:"date-time"`
	CreatedBy string `json:"created_by"`
}

// Resource is a dispatchable unit. Assignment and LastLocation are
// projections joined in by reads; they are not stored on the resource row.
type Resource struct {
	ID           string            `json:"id"`
	DisplayName  string            `json:"display_name"`
	Comment      *string           `json:"comment,omitempty"`
	InService    bool              `json:"in_service"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	Assignment   *Assignment       `json:"assignment,omitempty"`
	LastLocation *ResourceLocation `json:"last_location,omitempty"`
}

type ResourceLocation struct {
	ResourceID string  `json:"resource_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	RecordedAt string  `json:"recorded_at" format:"date-time"`
}

// Assignment binds one resource to one job. It is active while RemovedAt is
// unset; rows are never deleted.
type Assignment struct {
	ID         string  `json:"id"`
	JobID      string  `json:"job_id"`
	ResourceID string  `json:"resource_id"`
	AssignedAt string  `json:"assigned_at" format:"date-time"`
	AssignedBy string  `json:"assigned_by"`
	RemovedAt  *string `json:"removed_at,omitempty" format:"date-time"`
	RemovedBy  *string `json:"removed_by,omitempty"`
}

func (a Assignment) Active() bool { return a.RemovedAt == nil }

type User struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Phone       *string `json:"phone,omitempty"`
	Password    string  `json:"-"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	Admin       bool    `json:"admin"`
	Enabled     bool    `json:"enabled"`
}

// Event is a durable audit record; one row per accepted mutation.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
