package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

type adminRepo struct{ v view }

func (r adminRepo) CreateMember(_ context.Context, m *domain.Member) error {
	const op = "memory.AdminRepo.CreateMember"

	err := r.v.do(func(st *state) error {
		if m.Email != "" {
			for _, o := range st.members {
				if strings.EqualFold(o.Email, m.Email) {
					return repository.ErrConflict
				}
			}
		}
		st.nextMemberID++
		m.ID = st.nextMemberID
		st.members[m.ID] = *m
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	return nil
}

func (r adminRepo) CreateEvents(_ context.Context, events []domain.Event) error {
	return r.v.do(func(st *state) error {
		for i := range events {
			st.nextEventID++
			events[i].ID = st.nextEventID
			st.events[events[i].ID] = events[i]
		}
		return nil
	})
}
