package state

import (
	"context"
	"strings"

	"drivelog/catalog"
	"drivelog/errs"
	"drivelog/notify"
	"drivelog/resolver"
)

const manualDescription = "Введено вручную пользователем"

// DriveToManual asks for a typed destination.
func (m *Machine) DriveToManual(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.DriveToManual", func(s *step) (Payload, error) {
		if err := free(s.op, s.cur); err != nil {
			return nil, err
		}
		if _, err := s.openWorkDay(); err != nil {
			return nil, err
		}
		return WaitingManualDestination{}, nil
	})
}

// SubmitManualDestination matches the typed name against the full CRM
// listing. Without a catalog the name is accepted right away.
func (m *Machine) SubmitManualDestination(ctx context.Context, u User, text string) (*Result, error) {
	return m.transition(ctx, u, "state.SubmitManualDestination", func(s *step) (Payload, error) {
		if _, ok := s.cur.(WaitingManualDestination); !ok {
			return nil, wrongState(s.op, s.cur)
		}
		name := strings.TrimSpace(text)
		if name == "" {
			return nil, errs.UserInputf(s.op, "Введите название объекта")
		}
		if !m.catalog.Available() {
			return m.acceptManual(s, name)
		}
		objects := m.catalog.ListAll(s.ctx, u.ID)
		candidates := make([]resolver.Candidate, 0, len(objects))
		for _, o := range objects {
			candidates = append(candidates, resolver.Candidate{ID: o.ID, Name: o.Name})
		}
		matches := resolver.Rank(name, candidates, resolver.DefaultThreshold)
		s.res.Matches = matches
		return WaitingManualDestination{Input: name, Matches: matches}, nil
	})
}

// ConfirmCatalogDestination drives to the CRM object the user picked among the matches.
func (m *Machine) ConfirmCatalogDestination(ctx context.Context, u User, crmID string) (*Result, error) {
	return m.transition(ctx, u, "state.ConfirmCatalogDestination", func(s *step) (Payload, error) {
		if _, ok := s.cur.(WaitingManualDestination); !ok {
			return nil, wrongState(s.op, s.cur)
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		var found *catalog.Object
		for _, o := range m.catalog.ListAll(s.ctx, u.ID) {
			if o.ID == crmID {
				found = &o
				break
			}
		}
		if found == nil {
			return nil, errs.NotFoundf(s.op, "Объект %s не найден в CRM", crmID)
		}
		p, err := s.objectProject(*found)
		if err != nil {
			return nil, err
		}
		s.res.Project = p
		return s.startDriving(wd, TripDraft{Destination: p.Name, ProjectID: &p.ID, CRMID: found.ID, Start: s.now})
	})
}

// ConfirmNewDestination accepts the typed name as a new destination.
func (m *Machine) ConfirmNewDestination(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.ConfirmNewDestination", func(s *step) (Payload, error) {
		w, ok := s.cur.(WaitingManualDestination)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		if w.Input == "" {
			return nil, errs.UserInputf(s.op, "Сначала введите название объекта")
		}
		return m.acceptManual(s, w.Input)
	})
}

// acceptManual reuses a project of that name or creates one and tells the admins.
func (m *Machine) acceptManual(s *step, name string) (Payload, error) {
	wd, err := s.openWorkDay()
	if err != nil {
		return nil, err
	}
	p, created, err := s.ensureProject(name, manualDescription, nil)
	if err != nil {
		return nil, err
	}
	s.res.Project = p
	if created {
		text := notify.ManualDestinationMessage(name,
			notify.Creator{ID: int64(s.user.ID), Username: s.user.Username},
			m.settings.Current().Catalog.BoardURL)
		s.afterCommit(func(ctx context.Context) {
			m.notifier.NotifyAdmins(ctx, text)
		})
	}
	return s.startDriving(wd, TripDraft{Destination: p.Name, ProjectID: &p.ID, Start: s.now})
}

func (m *Machine) CancelManualDestination(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.CancelManualDestination", func(s *step) (Payload, error) {
		if _, ok := s.cur.(WaitingManualDestination); !ok {
			return nil, wrongState(s.op, s.cur)
		}
		return Idle{}, nil
	})
}
