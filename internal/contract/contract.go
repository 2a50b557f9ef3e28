// Package contract describes the behavioral contract of the API under test:
// paths, field names, enum sets, pagination envelope keys and the status
// codes each operation is allowed to return. A contract file (YAML) only
// needs the keys that differ from Default.
package contract

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/wondertwin-ai/apiconform/internal/schema"
	"gopkg.in/yaml.v3"
)

// AuthContract covers the login endpoint.
type AuthContract struct {
	LoginPath      string `yaml:"login_path"`
	EmailField     string `yaml:"email_field"`
	PasswordField  string `yaml:"password_field"`
	TokenField     string `yaml:"token_field"`
	TokenTypeField string `yaml:"token_type_field"`
	// LoginForm sends credentials as application/x-www-form-urlencoded
	// instead of JSON.
	LoginForm          bool  `yaml:"login_form"`
	Success            Codes `yaml:"success"`
	InvalidCredentials Codes `yaml:"invalid_credentials"`
	MissingFields      Codes `yaml:"missing_fields"`
}

// UsersContract covers the current-user endpoint.
type UsersContract struct {
	MePath       string   `yaml:"me_path"`
	Required     []string `yaml:"required"`
	Forbidden    []string `yaml:"forbidden"`
	Success      Codes    `yaml:"success"`
	Unauthorized Codes    `yaml:"unauthorized"`
}

// ResourceContract covers the CRUD resource (tasks by default).
type ResourceContract struct {
	CollectionPath string `yaml:"collection_path"`
	ItemPath       string `yaml:"item_path"`

	IDField          string `yaml:"id_field"`
	TitleField       string `yaml:"title_field"`
	DescriptionField string `yaml:"description_field"`
	StatusField      string `yaml:"status_field"`
	PriorityField    string `yaml:"priority_field"`
	ProjectField     string `yaml:"project_field"`
	CreatedAtField   string `yaml:"created_at_field"`
	UpdatedAtField   string `yaml:"updated_at_field"`

	Statuses   []string `yaml:"statuses"`
	Priorities []string `yaml:"priorities"`
	Forbidden  []string `yaml:"forbidden"`

	Create   Codes `yaml:"create"`
	Read     Codes `yaml:"read"`
	Update   Codes `yaml:"update"`
	Delete   Codes `yaml:"delete"`
	NotFound Codes `yaml:"not_found"`
	Invalid  Codes `yaml:"invalid"`
	List     Codes `yaml:"list"`

	// AbsentID is an id the backend is expected not to hold.
	AbsentID int64 `yaml:"absent_id"`
}

// EnvelopeFields names the keys of a page envelope.
type EnvelopeFields struct {
	Items   string `yaml:"items"`
	Total   string `yaml:"total"`
	Page    string `yaml:"page"`
	Limit   string `yaml:"limit"`
	HasNext string `yaml:"has_next"`
	HasPrev string `yaml:"has_prev"`
}

// PaginationContract covers list endpoints.
type PaginationContract struct {
	PageParam   string         `yaml:"page_param"`
	LimitParam  string         `yaml:"limit_param"`
	SearchParam string         `yaml:"search_param"`
	Envelope    EnvelopeFields `yaml:"envelope"`
}

// CORSContract covers preflight requests.
type CORSContract struct {
	Path          string `yaml:"path"`
	Origin        string `yaml:"origin"`
	RequestMethod string `yaml:"request_method"`
	Codes         Codes  `yaml:"codes"`
}

// FixtureContract holds the payloads used to create and update fixtures.
type FixtureContract struct {
	Create map[string]any `yaml:"create"`
	Update map[string]any `yaml:"update"`
}

// Contract is the full behavioral contract.
type Contract struct {
	Auth       AuthContract       `yaml:"auth"`
	Users      UsersContract      `yaml:"users"`
	Resource   ResourceContract   `yaml:"resource"`
	Pagination PaginationContract `yaml:"pagination"`
	CORS       CORSContract       `yaml:"cors"`
	Fixture    FixtureContract    `yaml:"fixture"`
}

// Default returns the contract of the reference task API.
func Default() *Contract {
	return &Contract{
		Auth: AuthContract{
			LoginPath:          "/auth/login",
			EmailField:         "email",
			PasswordField:      "password",
			TokenField:         "access_token",
			TokenTypeField:     "token_type",
			Success:            Codes{200},
			InvalidCredentials: Codes{401},
			MissingFields:      Codes{422},
		},
		Users: UsersContract{
			MePath:       "/users/me",
			Required:     []string{"id", "email", "is_active"},
			Forbidden:    []string{"password", "hashed_password"},
			Success:      Codes{200},
			Unauthorized: Codes{401},
		},
		Resource: ResourceContract{
			CollectionPath:   "/tasks",
			ItemPath:         "/tasks/{id}",
			IDField:          "id",
			TitleField:       "title",
			DescriptionField: "description",
			StatusField:      "status",
			PriorityField:    "priority",
			ProjectField:     "project_id",
			CreatedAtField:   "created_at",
			UpdatedAtField:   "updated_at",
			Statuses:         []string{"TODO", "IN_PROGRESS", "IN_REVIEW", "DONE"},
			Priorities:       []string{"LOW", "MEDIUM", "HIGH", "URGENT"},
			Create:           Codes{201},
			Read:             Codes{200},
			Update:           Codes{200},
			Delete:           Codes{204, 200},
			NotFound:         Codes{404},
			Invalid:          Codes{422},
			List:             Codes{200},
			AbsentID:         999999999,
		},
		Pagination: PaginationContract{
			PageParam:   "page",
			LimitParam:  "limit",
			SearchParam: "search",
			Envelope: EnvelopeFields{
				Items:   "items",
				Total:   "total",
				Page:    "page",
				Limit:   "limit",
				HasNext: "has_next",
				HasPrev: "has_prev",
			},
		},
		CORS: CORSContract{
			Path:          "/tasks",
			Origin:        "http://localhost:3000",
			RequestMethod: "POST",
			Codes:         Codes{200, 204},
		},
		Fixture: FixtureContract{
			Create: map[string]any{
				"title":    "API Test Task",
				"priority": "HIGH",
				"status":   "TODO",
			},
			Update: map[string]any{
				"status": "IN_PROGRESS",
			},
		},
	}
}

// Load reads a contract file. Keys absent from the file keep their
// Default values.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contract %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML contract over Default and validates the result.
func Parse(data []byte) (*Contract, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing contract: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports the first structural problem in c.
func (c *Contract) Validate() error {
	paths := map[string]string{
		"auth.login_path":           c.Auth.LoginPath,
		"auth.token_field":          c.Auth.TokenField,
		"users.me_path":             c.Users.MePath,
		"resource.collection_path":  c.Resource.CollectionPath,
		"resource.item_path":        c.Resource.ItemPath,
		"resource.id_field":         c.Resource.IDField,
		"pagination.page_param":     c.Pagination.PageParam,
		"pagination.limit_param":    c.Pagination.LimitParam,
		"pagination.envelope.items": c.Pagination.Envelope.Items,
		"pagination.envelope.total": c.Pagination.Envelope.Total,
	}
	for _, key := range sortedKeys(paths) {
		if paths[key] == "" {
			return fmt.Errorf("contract: %s is required", key)
		}
	}
	if !strings.Contains(c.Resource.ItemPath, "{id}") {
		return fmt.Errorf("contract: resource.item_path %q must contain {id}", c.Resource.ItemPath)
	}

	codes := map[string]Codes{
		"auth.success":             c.Auth.Success,
		"auth.invalid_credentials": c.Auth.InvalidCredentials,
		"users.success":            c.Users.Success,
		"users.unauthorized":       c.Users.Unauthorized,
		"resource.create":          c.Resource.Create,
		"resource.read":            c.Resource.Read,
		"resource.update":          c.Resource.Update,
		"resource.delete":          c.Resource.Delete,
		"resource.not_found":       c.Resource.NotFound,
		"resource.list":            c.Resource.List,
	}
	for _, key := range sortedKeys(codes) {
		if len(codes[key]) == 0 {
			return fmt.Errorf("contract: %s needs at least one status code", key)
		}
	}
	if len(c.Fixture.Create) == 0 {
		return fmt.Errorf("contract: fixture.create payload is empty")
	}
	return nil
}

// ItemURL expands the item path for id.
func (c *Contract) ItemURL(id any) string {
	return strings.ReplaceAll(c.Resource.ItemPath, "{id}", fmt.Sprint(id))
}

// TaskSchema is the response shape of a single resource.
func (c *Contract) TaskSchema() *schema.Schema {
	r := c.Resource
	fields := map[string]schema.Field{
		r.IDField:        {Type: schema.Integer},
		r.TitleField:     {Type: schema.String},
		r.StatusField:    {Type: schema.String, Enum: r.Statuses},
		r.PriorityField:  {Type: schema.String, Enum: r.Priorities},
		r.CreatedAtField: {Type: schema.String},
		r.UpdatedAtField: {Type: schema.String},
	}
	if r.DescriptionField != "" {
		fields[r.DescriptionField] = schema.Field{Type: schema.String, Nullable: true}
	}
	if r.ProjectField != "" {
		fields[r.ProjectField] = schema.Field{Type: schema.Integer, Nullable: true}
	}
	delete(fields, "")

	var required []string
	for _, k := range []string{r.IDField, r.TitleField, r.StatusField, r.PriorityField, r.CreatedAtField, r.UpdatedAtField} {
		if k != "" {
			required = append(required, k)
		}
	}
	return &schema.Schema{
		Name:      "task",
		Fields:    fields,
		Required:  required,
		Forbidden: r.Forbidden,
	}
}

// UserSchema is the response shape of the current-user endpoint.
func (c *Contract) UserSchema() *schema.Schema {
	return &schema.Schema{
		Name: "user",
		Fields: map[string]schema.Field{
			"id":         {Type: schema.Integer},
			"email":      {Type: schema.String},
			"full_name":  {Type: schema.String, Nullable: true},
			"is_active":  {Type: schema.Boolean},
			"role":       {Type: schema.String, Nullable: true},
			"created_at": {Type: schema.String, Nullable: true},
		},
		Required:  c.Users.Required,
		Forbidden: c.Users.Forbidden,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
