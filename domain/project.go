package domain

type ProjectStatus string

const (
	ProjectPlanned   ProjectStatus = "planned"
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project groups tasks under a manager.
type Project struct {
	ID          int           `json:"id"`
	Name        string        `json:"name"`
	Description *string       `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	StartDate   string        `json:"startDate"`
	EndDate     *string       `json:"endDate,omitempty"`
	ManagerID   int           `json:"managerId"`
	Manager     *User         `json:"manager,omitempty"`
}

type CreateProjectPayload struct {
	Name        string        `json:"name" validate:"required"`
	Description *string       `json:"description,omitempty"`
	Status      ProjectStatus `json:"status" validate:"required,oneof=planned active completed cancelled"`
	StartDate   string        `json:"startDate" validate:"required"`
	EndDate     *string       `json:"endDate,omitempty"`
	ManagerID   int           `json:"managerId" validate:"required,gt=0"`
}

type UpdateProjectPayload struct {
	Name        *string        `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string        `json:"description,omitempty"`
	Status      *ProjectStatus `json:"status,omitempty" validate:"omitempty,oneof=planned active completed cancelled"`
	StartDate   *string        `json:"startDate,omitempty"`
	EndDate     *string        `json:"endDate,omitempty"`
	ManagerID   *int           `json:"managerId,omitempty" validate:"omitempty,gt=0"`
}
