package model

import (
	"fmt"
	"strings"
)

// Category groups tasks. Tasks reference it weakly: deleting a category
// detaches its tasks and never deletes them.
type Category struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required,max=64"`
	Icon string `json:"icon,omitempty" validate:"max=32"`
}

func (c Category) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// DefaultCategories are seeded on first run.
func DefaultCategories() []Category {
	return []Category{
		{Name: "Personal", Icon: "person"},
		{Name: "Work", Icon: "briefcase"},
	}
}
