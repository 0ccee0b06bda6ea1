package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sandeepkv93/tasksync/internal/model"
)

func (s *Store) Categories() []model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// SeedDefaults creates the default categories when none exist yet and
// reports whether it did.
func (s *Store) SeedDefaults(ctx context.Context) (bool, error) {
	s.mu.RLock()
	empty := len(s.categories) == 0
	s.mu.RUnlock()
	if !empty {
		return false, nil
	}
	for _, c := range model.DefaultCategories() {
		if _, err := s.CreateCategory(ctx, c.Name, c.Icon); err != nil {
			return false, fmt.Errorf("seed category %s: %w", c.Name, err)
		}
	}
	return true, nil
}

func (s *Store) CreateCategory(ctx context.Context, name, icon string) (model.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := model.Category{ID: s.newID(), Name: strings.TrimSpace(name), Icon: strings.TrimSpace(icon)}
	if err := c.Validate(); err != nil {
		return model.Category{}, err
	}
	if err := s.checkCategoryName(c.ID, c.Name); err != nil {
		return model.Category{}, err
	}
	if err := s.repo.UpsertCategory(ctx, c); err != nil {
		return model.Category{}, fmt.Errorf("persist category %s: %w", c.ID, err)
	}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) RenameCategory(ctx context.Context, id, name string) (model.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return model.Category{}, fmt.Errorf("%w: category %q", model.ErrNotFound, id)
	}
	c.Name = strings.TrimSpace(name)
	if err := c.Validate(); err != nil {
		return model.Category{}, err
	}
	if err := s.checkCategoryName(c.ID, c.Name); err != nil {
		return model.Category{}, err
	}
	if err := s.repo.UpsertCategory(ctx, c); err != nil {
		return model.Category{}, fmt.Errorf("persist category %s: %w", c.ID, err)
	}
	s.categories[c.ID] = c
	return c, nil
}

// DeleteCategory removes a category and detaches every task that referenced
// it. Each detachment of a live task is an ordinary task update. Tombstones
// are detached in place without a new UpdatedAt or event, since they only
// wait for purge. Tasks are detached before the category row goes, so a
// failed delete leaves the category in place and can simply be retried.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return s.mutate(func() ([]Event, error) {
		if _, ok := s.categories[id]; !ok {
			return nil, fmt.Errorf("%w: category %q", model.ErrNotFound, id)
		}
		events := make([]Event, 0)
		for _, t := range s.tasks {
			if t.CategoryID == nil || *t.CategoryID != id {
				continue
			}
			next := t.Clone()
			next.CategoryID = nil
			if !t.IsDeleted() {
				next.UpdatedAt = s.stamp(t.UpdatedAt)
			}
			if err := s.write(ctx, next); err != nil {
				return events, err
			}
			if !t.IsDeleted() {
				events = append(events, Event{TaskID: t.ID, Kind: EventUpdated, Origin: OriginLocal, Changed: model.FieldCategory, Task: next.Clone()})
			}
		}
		if err := s.repo.DeleteCategory(ctx, id); err != nil {
			return events, fmt.Errorf("delete category %s: %w", id, err)
		}
		delete(s.categories, id)
		return events, nil
	})
}

func (s *Store) checkCategoryName(id, name string) error {
	for _, other := range s.categories {
		if other.ID != id && strings.EqualFold(other.Name, name) {
			return fmt.Errorf("%w: category %q already exists", model.ErrValidation, name)
		}
	}
	return nil
}
