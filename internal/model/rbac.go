package model

// Role groups permissions under a stable id. Permission ids are not
// checked for existence at write time; a dangling id never matches.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// Permission grants an action on a resource, optionally narrowed by
// conditions. Every condition key must equal the same field of the
// request context for the grant to apply; a missing field is a
// non-match.
type Permission struct {
	ID         string            `json:"id"`
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Conditions map[string]string `json:"conditions,omitempty"`
}
