package model

// Capacity values accepted for organization and group members.
const (
	CapacityAdmin  = "admin"
	CapacityEditor = "editor"
	CapacityMember = "member"
)

// Member grants a user a capacity on an organization or group at creation time.
type Member struct {
	Name     string `json:"name" bson:"name"`
	Capacity string `json:"capacity" bson:"capacity"`
}

// Organization owns datasets in the target catalog. It is created at most once
// per run and never updated by the harvester.
type Organization struct {
	Name        string     `json:"name" bson:"name"`
	Title       string     `json:"title,omitempty" bson:"title,omitempty"`
	Description string     `json:"description,omitempty" bson:"description,omitempty"`
	Groups      []GroupRef `json:"groups,omitempty" bson:"groups,omitempty"`
	Users       []Member   `json:"users,omitempty" bson:"users,omitempty"`
}

// Group is a thematic collection of datasets. Groups may nest under a parent group.
type Group struct {
	Name        string     `json:"name" bson:"name"`
	Title       string     `json:"title,omitempty" bson:"title,omitempty"`
	Description string     `json:"description,omitempty" bson:"description,omitempty"`
	Groups      []GroupRef `json:"groups,omitempty" bson:"groups,omitempty"`
	Users       []Member   `json:"users,omitempty" bson:"users,omitempty"`
}

// EntityMetadata lists the organizations and groups a source record depends on.
type EntityMetadata struct {
	Organizations []Organization `json:"organizations,omitempty"`
	Groups        []Group        `json:"groups,omitempty"`
}

// Empty reports whether there is nothing to ensure.
func (m EntityMetadata) Empty() bool {
	return len(m.Organizations) == 0 && len(m.Groups) == 0
}
