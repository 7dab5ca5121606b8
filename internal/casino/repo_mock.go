package casino

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ repo = (*repoMock)(nil)

type repoMock struct {
	mutex       sync.Mutex
	casinos     map[int]*Casino
	bonuses     map[int]*Bonus
	nextID      int
	nextBonusID int

	// injectable failures
	ListErr error
	AddErr  error
}

func newRepoMock() *repoMock {
	return &repoMock{
		casinos:     make(map[int]*Casino),
		bonuses:     make(map[int]*Bonus),
		nextID:      1,
		nextBonusID: 1,
	}
}

func (r *repoMock) Add(_ context.Context, c Casino) (*Casino, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.AddErr != nil {
		return nil, r.AddErr
	}

	c.ID = r.nextID
	r.nextID++
	c.UpdatedAt = c.CreatedAt
	r.casinos[c.ID] = &c

	cCopy := c
	return &cCopy, nil
}

func (r *repoMock) Update(_ context.Context, c *Casino) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.casinos[c.ID]; !ok {
		return ErrCasinoNotFound
	}
	updated := *c
	updated.UpdatedAt = time.Now()
	r.casinos[c.ID] = &updated
	return nil
}

func (r *repoMock) Delete(_ context.Context, id int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.casinos[id]; !ok {
		return ErrCasinoNotFound
	}
	delete(r.casinos, id)
	return nil
}

func (r *repoMock) Get(_ context.Context, id int) (*Casino, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	c, ok := r.casinos[id]
	if !ok {
		return nil, ErrCasinoNotFound
	}
	cCopy := *c
	return &cCopy, nil
}

func (r *repoMock) List(_ context.Context, params ListParams) ([]Casino, int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.ListErr != nil {
		return nil, -1, r.ListErr
	}

	var matched []Casino
	for _, c := range r.casinos {
		if !params.IncludeUnpublished && !c.Published {
			continue
		}
		if params.FeaturedOnly && !c.Featured {
			continue
		}
		if params.MinRating > 0 && c.Rating < params.MinRating {
			continue
		}
		if params.Query != "" {
			q := strings.ToLower(params.Query)
			if !strings.Contains(strings.ToLower(c.Name), q) &&
				!strings.Contains(strings.ToLower(c.Description), q) {
				continue
			}
		}
		matched = append(matched, *c)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Featured != matched[j].Featured {
			return matched[i].Featured
		}
		if matched[i].Rating != matched[j].Rating {
			return matched[i].Rating > matched[j].Rating
		}
		return matched[i].Name < matched[j].Name
	})

	total := len(matched)
	start := (params.Page - 1) * params.Size
	if start >= total {
		return nil, total, nil
	}
	end := start + params.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *repoMock) Bonuses(_ context.Context, casinoID int) ([]Bonus, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var bonuses []Bonus
	for _, b := range r.bonuses {
		if b.CasinoID == casinoID && b.Active {
			bonuses = append(bonuses, *b)
		}
	}
	sort.Slice(bonuses, func(i, j int) bool {
		return bonuses[i].CreatedAt.After(bonuses[j].CreatedAt)
	})
	return bonuses, nil
}

func (r *repoMock) AddBonus(_ context.Context, b Bonus) (*Bonus, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	b.ID = r.nextBonusID
	r.nextBonusID++
	r.bonuses[b.ID] = &b

	bCopy := b
	return &bCopy, nil
}

func (r *repoMock) DeleteBonus(_ context.Context, id int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.bonuses[id]; !ok {
		return ErrBonusNotFound
	}
	delete(r.bonuses, id)
	return nil
}
